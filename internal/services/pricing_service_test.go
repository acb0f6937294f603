package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopnest/api/internal/domain"
)

func ptrInt64(v int64) *int64 { return &v }
func ptrInt(v int) *int       { return &v }
func ptrStr(v string) *string { return &v }

func newTestPricing(t *testing.T, products map[string]domain.Product) PricingService {
	t.Helper()
	svc, err := NewPricingService(PricingServiceDeps{Catalog: &stubCatalog{products: products}})
	if err != nil {
		t.Fatalf("NewPricingService returned error: %v", err)
	}
	return svc
}

func TestExpectedUnitPriceWholesaleThreshold(t *testing.T) {
	svc := newTestPricing(t, map[string]domain.Product{
		"prod-1": {
			ID:          "prod-1",
			Name:        "Ceramic Mug",
			Price:       700,
			HasVariants: true,
			Active:      true,
			Variants: []domain.Variant{{
				ID:                 "var-blue",
				Name:               "Blue",
				Price:              700,
				WholesalePrice:     ptrInt64(500),
				WholesaleThreshold: ptrInt(10),
			}},
		},
	})

	quote, err := svc.ExpectedUnitPrice(context.Background(), "prod-1", ptrStr("var-blue"), 9)
	if err != nil {
		t.Fatalf("quantity 9 returned error: %v", err)
	}
	if quote.UnitPrice != 700 {
		t.Errorf("quantity 9: expected retail 700, got %d", quote.UnitPrice)
	}

	quote, err = svc.ExpectedUnitPrice(context.Background(), "prod-1", ptrStr("var-blue"), 10)
	if err != nil {
		t.Fatalf("quantity 10 returned error: %v", err)
	}
	if quote.UnitPrice != 500 {
		t.Errorf("quantity 10: expected wholesale 500, got %d", quote.UnitPrice)
	}
}

func TestExpectedUnitPriceProductLevelWholesale(t *testing.T) {
	svc := newTestPricing(t, map[string]domain.Product{
		"prod-2": {
			ID:                 "prod-2",
			Name:               "Rice 1kg",
			Price:              250,
			WholesalePrice:     ptrInt64(200),
			WholesaleThreshold: ptrInt(24),
			Active:             true,
		},
	})

	quote, err := svc.ExpectedUnitPrice(context.Background(), "prod-2", nil, 24)
	if err != nil {
		t.Fatalf("ExpectedUnitPrice returned error: %v", err)
	}
	if quote.UnitPrice != 200 {
		t.Errorf("expected product-level wholesale 200, got %d", quote.UnitPrice)
	}
}

func TestExpectedUnitPriceUnknownProduct(t *testing.T) {
	svc := newTestPricing(t, map[string]domain.Product{})

	_, err := svc.ExpectedUnitPrice(context.Background(), "missing", nil, 1)
	if !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestExpectedUnitPriceInactiveProduct(t *testing.T) {
	svc := newTestPricing(t, map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Retired", Price: 100, Active: false},
	})

	_, err := svc.ExpectedUnitPrice(context.Background(), "prod-1", nil, 1)
	if !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct for inactive product, got %v", err)
	}
}

func TestExpectedUnitPriceUnknownVariant(t *testing.T) {
	svc := newTestPricing(t, map[string]domain.Product{
		"prod-1": {
			ID:          "prod-1",
			Name:        "Ceramic Mug",
			Price:       700,
			HasVariants: true,
			Active:      true,
			Variants:    []domain.Variant{{ID: "var-blue", Name: "Blue", Price: 700}},
		},
	})

	_, err := svc.ExpectedUnitPrice(context.Background(), "prod-1", ptrStr("var-red"), 1)
	if !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestExpectedUnitPriceInvalidInput(t *testing.T) {
	svc := newTestPricing(t, map[string]domain.Product{})

	if _, err := svc.ExpectedUnitPrice(context.Background(), "", nil, 1); !errors.Is(err, ErrPricingInvalidInput) {
		t.Errorf("expected invalid input for empty ref, got %v", err)
	}
	if _, err := svc.ExpectedUnitPrice(context.Background(), "prod-1", nil, 0); !errors.Is(err, ErrPricingInvalidInput) {
		t.Errorf("expected invalid input for zero quantity, got %v", err)
	}
}
