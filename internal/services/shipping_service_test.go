package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopnest/api/internal/domain"
)

func newTestShipping(t *testing.T, rates *stubRates) ShippingService {
	t.Helper()
	svc, err := NewShippingService(ShippingServiceDeps{Rates: rates})
	if err != nil {
		t.Fatalf("NewShippingService returned error: %v", err)
	}
	return svc
}

func TestResolveRateDistinguishesZeroFromUnset(t *testing.T) {
	rates := &stubRates{
		counties: map[string]domain.County{
			"nairobi": {ID: "nairobi", Name: "Nairobi", DefaultShippingFee: 200, DeliveryDays: 2},
		},
		areas: map[string]domain.Area{
			"cbd":    {ID: "cbd", CountyRef: "nairobi", Name: "CBD", ShippingFee: ptrInt64(0), Active: true},
			"karen":  {ID: "karen", CountyRef: "nairobi", Name: "Karen", Active: true},
			"closed": {ID: "closed", CountyRef: "nairobi", Name: "Closed", ShippingFee: ptrInt64(50), Active: false},
		},
	}
	svc := newTestShipping(t, rates)

	// Explicit zero means free shipping.
	rate, err := svc.ResolveRate(context.Background(), "nairobi", "cbd")
	if err != nil {
		t.Fatalf("ResolveRate cbd returned error: %v", err)
	}
	if rate.Fee != 0 {
		t.Errorf("explicit zero fee: expected 0, got %d", rate.Fee)
	}

	// Unset falls back to the county default.
	rate, err = svc.ResolveRate(context.Background(), "nairobi", "karen")
	if err != nil {
		t.Fatalf("ResolveRate karen returned error: %v", err)
	}
	if rate.Fee != 200 {
		t.Errorf("unset fee: expected county default 200, got %d", rate.Fee)
	}

	// Inactive areas behave as missing.
	rate, err = svc.ResolveRate(context.Background(), "nairobi", "closed")
	if err != nil {
		t.Fatalf("ResolveRate closed returned error: %v", err)
	}
	if rate.Fee != 200 {
		t.Errorf("inactive area: expected county default 200, got %d", rate.Fee)
	}
}

func TestResolveRateMissingAreaFallsBack(t *testing.T) {
	rates := &stubRates{
		counties: map[string]domain.County{
			"kisumu": {ID: "kisumu", Name: "Kisumu", DefaultShippingFee: 350, DeliveryDays: 4},
		},
		areas: map[string]domain.Area{},
	}
	svc := newTestShipping(t, rates)

	rate, err := svc.ResolveRate(context.Background(), "kisumu", "nowhere")
	if err != nil {
		t.Fatalf("ResolveRate returned error: %v", err)
	}
	if rate.Fee != 350 {
		t.Errorf("expected county default 350, got %d", rate.Fee)
	}
	if rate.DeliveryDays != 4 {
		t.Errorf("expected county delivery days 4, got %d", rate.DeliveryDays)
	}
}

func TestResolveRateAreaDeliveryDaysOverride(t *testing.T) {
	rates := &stubRates{
		counties: map[string]domain.County{
			"nairobi": {ID: "nairobi", Name: "Nairobi", DefaultShippingFee: 200, DeliveryDays: 3},
		},
		areas: map[string]domain.Area{
			"cbd": {ID: "cbd", CountyRef: "nairobi", Name: "CBD", DeliveryDays: ptrInt(1), Active: true},
		},
	}
	svc := newTestShipping(t, rates)

	rate, err := svc.ResolveRate(context.Background(), "nairobi", "cbd")
	if err != nil {
		t.Fatalf("ResolveRate returned error: %v", err)
	}
	if rate.DeliveryDays != 1 {
		t.Errorf("expected area delivery days 1, got %d", rate.DeliveryDays)
	}
	if rate.Fee != 200 {
		t.Errorf("expected county default fee 200, got %d", rate.Fee)
	}
}

func TestResolveRateUnknownCounty(t *testing.T) {
	svc := newTestShipping(t, &stubRates{counties: map[string]domain.County{}, areas: map[string]domain.Area{}})

	_, err := svc.ResolveRate(context.Background(), "atlantis", "")
	if !errors.Is(err, ErrUnknownCounty) {
		t.Fatalf("expected ErrUnknownCounty, got %v", err)
	}
}

func TestResolveRateRequiresCounty(t *testing.T) {
	svc := newTestShipping(t, &stubRates{counties: map[string]domain.County{}, areas: map[string]domain.Area{}})

	_, err := svc.ResolveRate(context.Background(), "", "cbd")
	if !errors.Is(err, ErrShippingInvalidInput) {
		t.Fatalf("expected ErrShippingInvalidInput, got %v", err)
	}
}
