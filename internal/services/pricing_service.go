package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopnest/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput indicates the caller supplied malformed pricing parameters.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrUnknownProduct indicates the referenced product does not exist or is inactive.
	ErrUnknownProduct = errors.New("pricing: unknown product")
	// ErrUnknownVariant indicates the referenced variant does not exist on the product.
	ErrUnknownVariant = errors.New("pricing: unknown variant")
)

// PricingServiceDeps bundles collaborators required to construct a pricing service.
type PricingServiceDeps struct {
	Catalog repositories.CatalogRepository
	Logger  Logger
}

type pricingService struct {
	catalog repositories.CatalogRepository
	logger  Logger
}

// NewPricingService constructs the authoritative price oracle on top of the catalog.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing service: catalog repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingService{catalog: deps.Catalog, logger: logger}, nil
}

func (s *pricingService) ExpectedUnitPrice(ctx context.Context, productRef string, variantRef *string, quantity int) (PriceQuote, error) {
	ref := strings.TrimSpace(productRef)
	if ref == "" {
		return PriceQuote{}, fmt.Errorf("%w: product ref is required", ErrPricingInvalidInput)
	}
	if quantity <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: quantity must be positive", ErrPricingInvalidInput)
	}

	product, err := s.catalog.FindProduct(ctx, ref)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return PriceQuote{}, fmt.Errorf("%w: %s", ErrUnknownProduct, ref)
		}
		return PriceQuote{}, err
	}
	if !product.Active {
		return PriceQuote{}, fmt.Errorf("%w: %s is inactive", ErrUnknownProduct, ref)
	}

	name := product.Name
	price := product.Price
	wholesalePrice := product.WholesalePrice
	wholesaleThreshold := product.WholesaleThreshold

	if product.HasVariants && variantRef != nil && strings.TrimSpace(*variantRef) != "" {
		variantID := strings.TrimSpace(*variantRef)
		found := false
		for _, variant := range product.Variants {
			if variant.ID == variantID {
				name = fmt.Sprintf("%s (%s)", product.Name, variant.Name)
				price = variant.Price
				wholesalePrice = variant.WholesalePrice
				wholesaleThreshold = variant.WholesaleThreshold
				found = true
				break
			}
		}
		if !found {
			return PriceQuote{}, fmt.Errorf("%w: %s on product %s", ErrUnknownVariant, variantID, ref)
		}
	}

	unitPrice := price
	if wholesalePrice != nil && wholesaleThreshold != nil && quantity >= *wholesaleThreshold {
		unitPrice = *wholesalePrice
	}

	return PriceQuote{UnitPrice: unitPrice, Name: name}, nil
}
