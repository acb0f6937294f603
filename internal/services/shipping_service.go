package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopnest/api/internal/repositories"
)

var (
	// ErrShippingInvalidInput indicates the caller supplied malformed shipping parameters.
	ErrShippingInvalidInput = errors.New("shipping: invalid input")
	// ErrUnknownCounty indicates the referenced county does not exist.
	ErrUnknownCounty = errors.New("shipping: unknown county")
)

// ShippingServiceDeps bundles collaborators required to construct a shipping service.
type ShippingServiceDeps struct {
	Rates  repositories.ShippingRateRepository
	Logger Logger
}

type shippingService struct {
	rates  repositories.ShippingRateRepository
	logger Logger
}

// NewShippingService constructs the shipping fee resolver on top of the rate tables.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Rates == nil {
		return nil, errors.New("shipping service: rate repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingService{rates: deps.Rates, logger: logger}, nil
}

// ResolveRate resolves the delivery fee for an address. An area fee explicitly
// set to zero means free shipping; only an unset fee falls back to the county
// default. A truthiness check would conflate the two.
func (s *shippingService) ResolveRate(ctx context.Context, countyRef, areaRef string) (ShippingRate, error) {
	county := strings.TrimSpace(countyRef)
	if county == "" {
		return ShippingRate{}, fmt.Errorf("%w: county ref is required", ErrShippingInvalidInput)
	}

	countyRecord, err := s.rates.FindCounty(ctx, county)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return ShippingRate{}, fmt.Errorf("%w: %s", ErrUnknownCounty, county)
		}
		return ShippingRate{}, err
	}

	rate := ShippingRate{
		Fee:          countyRecord.DefaultShippingFee,
		DeliveryDays: countyRecord.DeliveryDays,
	}

	area := strings.TrimSpace(areaRef)
	if area == "" {
		return rate, nil
	}

	areaRecord, err := s.rates.FindArea(ctx, area)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			s.logger(ctx, "shipping.area.missing", map[string]any{"area": area, "county": county})
			return rate, nil
		}
		return ShippingRate{}, err
	}
	if !areaRecord.Active {
		return rate, nil
	}

	if areaRecord.ShippingFee != nil {
		rate.Fee = *areaRecord.ShippingFee
	}
	if areaRecord.DeliveryDays != nil {
		rate.DeliveryDays = *areaRecord.DeliveryDays
	}
	return rate, nil
}
