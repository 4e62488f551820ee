package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Region    string           `json:"region,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	probe := func(name string, p pinger) {
		if p == nil {
			checks[name] = Check{Status: "fail", Message: "not configured"}
			allHealthy = false
			return
		}
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			return
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	var accounts, live pinger
	if h.accounts != nil {
		accounts = h.accounts
	}
	if h.live != nil {
		live = h.live
	}
	probe("accounts", accounts)
	probe("live_store", live)

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Region:    os.Getenv("FLY_REGION"),
		Instance:  os.Getenv("FLY_ALLOC_ID"),
		Checks:    checks,
		Timestamp: h.opts.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	App     string   `json:"app"`
	SignIn  []string `json:"signIn"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	providers := []string{"phone"}
	if h.identity != nil && h.identity.GoogleEnabled() {
		providers = append(providers, "google")
	}
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "live-chat",
		Version: version,
		App:     h.opts.AppPath,
		SignIn:  providers,
	})
}
