package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/shopnest/api/internal/domain"
	pfirestore "github.com/shopnest/api/internal/platform/firestore"
)

const (
	countiesCollection = "counties"
	areasCollection    = "areas"
)

// ShippingRateRepository reads county and area shipping reference data.
type ShippingRateRepository struct {
	counties *pfirestore.BaseRepository[domain.County]
	areas    *pfirestore.BaseRepository[domain.Area]
}

// NewShippingRateRepository constructs a Firestore-backed shipping rate reader.
func NewShippingRateRepository(provider *pfirestore.Provider) (*ShippingRateRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping rate repository requires firestore provider")
	}
	return &ShippingRateRepository{
		counties: pfirestore.NewBaseRepository[domain.County](provider, countiesCollection, nil, nil),
		areas:    pfirestore.NewBaseRepository[domain.Area](provider, areasCollection, nil, nil),
	}, nil
}

// FindCounty fetches a county by its document reference.
func (r *ShippingRateRepository) FindCounty(ctx context.Context, countyRef string) (domain.County, error) {
	id := strings.TrimSpace(countyRef)
	if id == "" {
		return domain.County{}, pfirestore.WrapError("counties.find", errors.New("county ref is required"))
	}
	doc, err := r.counties.Get(ctx, id)
	if err != nil {
		return domain.County{}, err
	}
	county := doc.Data
	county.ID = doc.ID
	return county, nil
}

// FindArea fetches an area by its document reference.
func (r *ShippingRateRepository) FindArea(ctx context.Context, areaRef string) (domain.Area, error) {
	id := strings.TrimSpace(areaRef)
	if id == "" {
		return domain.Area{}, pfirestore.WrapError("areas.find", errors.New("area ref is required"))
	}
	doc, err := r.areas.Get(ctx, id)
	if err != nil {
		return domain.Area{}, err
	}
	area := doc.Data
	area.ID = doc.ID
	return area, nil
}
