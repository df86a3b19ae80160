package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func healthMux(s *HealthServer) *http.ServeMux {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func getStatus(t *testing.T, mux *http.ServeMux, path string) (int, HealthResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return w.Code, resp
}

func TestHealthServerStartsNotReady(t *testing.T) {
	mux := healthMux(NewHealthServer("1.0.0"))

	code, _ := getStatus(t, mux, "/ready")
	if code != http.StatusServiceUnavailable {
		t.Errorf("/ready before SetReady = %d, want 503", code)
	}
	code, _ = getStatus(t, mux, "/live")
	if code != http.StatusOK {
		t.Errorf("/live = %d, want 200", code)
	}
}

func TestHealthServerReadyToggle(t *testing.T) {
	s := NewHealthServer("")
	mux := healthMux(s)

	s.SetReady(true)
	if code, _ := getStatus(t, mux, "/ready"); code != http.StatusOK {
		t.Errorf("/ready = %d, want 200", code)
	}
	s.SetReady(false)
	if code, _ := getStatus(t, mux, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after SetReady(false) = %d, want 503", code)
	}
}

func TestHealthAggregation(t *testing.T) {
	tests := []struct {
		name        string
		status      HealthStatus
		wantCode    int
		wantOverall HealthStatus
	}{
		{"healthy check", HealthStatusHealthy, http.StatusOK, HealthStatusHealthy},
		{"degraded check", HealthStatusDegraded, http.StatusOK, HealthStatusDegraded},
		{"unhealthy check", HealthStatusUnhealthy, http.StatusServiceUnavailable, HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHealthServer("1.0.0")
			s.RegisterCheck("component", func(ctx context.Context) HealthCheck {
				return HealthCheck{Status: tt.status}
			})
			code, resp := getStatus(t, healthMux(s), "/health")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if resp.Status != tt.wantOverall {
				t.Errorf("status = %s, want %s", resp.Status, tt.wantOverall)
			}
			if len(resp.Checks) != 1 || resp.Checks[0].Name != "component" {
				t.Errorf("checks = %+v", resp.Checks)
			}
		})
	}
}

func TestIndexHealthChecker(t *testing.T) {
	check := IndexHealthChecker(
		func() int { return 12 },
		func(ctx context.Context) ([]string, error) { return []string{"a.pdf", "b.pdf"}, nil },
	)(context.Background())
	if check.Status != HealthStatusHealthy {
		t.Fatalf("status = %s", check.Status)
	}
	if check.Details["entries"] != "12" || check.Details["documents"] != "2" {
		t.Errorf("details = %v", check.Details)
	}

	check = IndexHealthChecker(
		func() int { return 0 },
		func(ctx context.Context) ([]string, error) { return nil, errors.New("store closed") },
	)(context.Background())
	if check.Status != HealthStatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", check.Status)
	}
}

func TestLLMHealthChecker(t *testing.T) {
	if c := LLMHealthChecker("", nil)(context.Background()); c.Status != HealthStatusDegraded {
		t.Errorf("no provider: status = %s, want degraded", c.Status)
	}
	if c := LLMHealthChecker("groq", nil)(context.Background()); c.Status != HealthStatusHealthy {
		t.Errorf("configured provider: status = %s, want healthy", c.Status)
	}
	failing := func(ctx context.Context) error { return errors.New("401") }
	if c := LLMHealthChecker("groq", failing)(context.Background()); c.Status != HealthStatusDegraded {
		t.Errorf("failing probe: status = %s, want degraded", c.Status)
	}
}
