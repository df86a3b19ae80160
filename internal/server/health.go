// Package server provides the HTTP surface: the question-answering API,
// health probes, and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the health state of a component or of the whole service.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is the result of probing a single component.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the body returned by the probe endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker probes one component.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthServer aggregates registered checks behind /health, /ready and
// /live (plus the Kubernetes-style z aliases).
type HealthServer struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	version string
	ready   bool
	live    bool
}

// NewHealthServer creates a health server. It starts not-ready: callers
// flip readiness once the index and providers are wired.
func NewHealthServer(version string) *HealthServer {
	return &HealthServer{
		checks:  make(map[string]HealthChecker),
		version: version,
		live:    true,
	}
}

// RegisterCheck adds a named component check.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the service ready (or not) for traffic.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive marks the service live (or not).
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Register attaches the probe endpoints to mux.
func (s *HealthServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthChecker, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	version := s.version
	s.mu.RUnlock()

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]HealthCheck, 0, len(checks)),
	}

	for name, checker := range checks {
		check := checker(ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)

		switch {
		case check.Status == HealthStatusUnhealthy:
			response.Status = HealthStatusUnhealthy
		case check.Status == HealthStatusDegraded && response.Status == HealthStatusHealthy:
			response.Status = HealthStatusDegraded
		}
	}

	code := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	s.probeResponse(w, ready)
}

func (s *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	live := s.live
	s.mu.RUnlock()
	s.probeResponse(w, live)
}

func (s *HealthServer) probeResponse(w http.ResponseWriter, ok bool) {
	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
	}
	if !ok {
		response.Status = HealthStatusUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// IndexHealthChecker reports how many chunks and documents the index holds.
// An empty index is healthy; a failing one is not.
func IndexHealthChecker(entries func() int, documents func(ctx context.Context) ([]string, error)) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		docs, err := documents(ctx)
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "index unavailable: " + err.Error(),
			}
		}
		return HealthCheck{
			Status: HealthStatusHealthy,
			Details: map[string]string{
				"entries":   fmt.Sprintf("%d", entries()),
				"documents": fmt.Sprintf("%d", len(docs)),
			},
		}
	}
}

// LLMHealthChecker reports the configured model backend. With no probe
// function it only reports configuration; a failing probe degrades rather
// than fails, because retrieval keeps working without the model.
func LLMHealthChecker(providerName string, probe func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if providerName == "" {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "no model backend configured, answers degrade to snippets",
			}
		}
		if probe != nil {
			if err := probe(ctx); err != nil {
				return HealthCheck{
					Status:  HealthStatusDegraded,
					Message: "model backend degraded: " + err.Error(),
					Details: map[string]string{"provider": providerName},
				}
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Details: map[string]string{"provider": providerName},
		}
	}
}
