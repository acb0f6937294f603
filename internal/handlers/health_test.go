package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthzReportsBuildInfo(t *testing.T) {
	start := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	now := start.Add(45 * time.Second)
	current := start
	handlers := NewHealthHandlers(
		WithHealthBuildInfo("1.4.0", "prod"),
		WithHealthClock(func() time.Time { return current }),
	)
	current = now

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parsing response failed: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "1.4.0" || body["environment"] != "prod" {
		t.Errorf("unexpected payload %v", body)
	}
	if body["uptime"] != "45s" {
		t.Errorf("expected uptime 45s, got %v", body["uptime"])
	}
}

func TestReadyzFailingProbe(t *testing.T) {
	handlers := NewHealthHandlers(
		WithReadinessProbe("firestore", func(context.Context) error { return nil }),
		WithReadinessProbe("pubsub", func(context.Context) error { return errors.New("publish failed") }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parsing response failed: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("expected degraded, got %s", body.Status)
	}
	if body.Checks["firestore"].Status != "ok" || body.Checks["pubsub"].Status != "degraded" {
		t.Errorf("unexpected checks %v", body.Checks)
	}
	if len(body.Details) != 1 || body.Details[0] != "pubsub: publish failed" {
		t.Errorf("unexpected details %v", body.Details)
	}
}

func TestReadyzAllProbesPass(t *testing.T) {
	handlers := NewHealthHandlers(
		WithReadinessProbe("firestore", func(context.Context) error { return nil }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
