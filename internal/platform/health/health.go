// Package health exposes the liveness endpoint used by deploy probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dbis/pkg/platform/httputil"
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Health(ctx context.Context) error { return f(ctx) }

// Handler answers GET /api/health with per-dependency status. The endpoint
// stays unauthenticated so load balancers can probe it.
type Handler struct {
	checks map[string]Checker
}

// New creates a health Handler. Nil checkers are skipped so optional
// dependencies (redis, kafka) can be wired unconditionally.
func New(checks map[string]Checker) *Handler {
	filtered := make(map[string]Checker, len(checks))
	for name, check := range checks {
		if check != nil {
			filtered[name] = check
		}
	}
	return &Handler{checks: filtered}
}

// Register mounts the health route.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			deps[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	httputil.WriteJSON(w, status, map[string]any{
		"status":       state,
		"dependencies": deps,
	})
}
