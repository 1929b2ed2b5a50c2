package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/contentkit/contentgraph/internal/logging"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		ping       func(context.Context) error
		failed     int
		wantStatus Status
		wantCode   int
	}{
		{"healthy", func(context.Context) error { return nil }, 0, StatusHealthy, http.StatusOK},
		{"not configured", nil, 0, StatusHealthy, http.StatusOK},
		{"degraded", func(context.Context) error { return nil }, 5, StatusDegraded, http.StatusOK},
		{"store down", func(context.Context) error { return errors.New("refused") }, 0, StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(logging.Nop())
			h.RegisterChecker("store", NewPingChecker("graph store", tt.ping))
			h.RegisterChecker("build", NewBuildChecker(func() (int, int) { return 10, tt.failed }, 0.2))

			rec := httptest.NewRecorder()
			h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, rec.Code)
			}
			var resp Response
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, resp.Status)
			}
			if len(resp.Checks) != 2 || resp.Checks[0].Name != "build" {
				t.Errorf("expected checks sorted by name, got %+v", resp.Checks)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	h := NewHandler(logging.Nop())
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before ready, got %d", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 once ready, got %d", rec.Code)
	}
}
