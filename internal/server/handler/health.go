package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks one backing service's connectivity.
type Pinger func(ctx context.Context) error

// HealthHandler serves liveness plus per-dependency readiness.
type HealthHandler struct {
	pingers map[string]Pinger
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. pingers maps dependency names
// (postgres, redis, s3) to their connectivity checks; nil is allowed.
func NewHealthHandler(pingers map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{pingers: pingers, logger: logger}
}

// HealthCheck reports overall status and each dependency's state. A failing
// dependency degrades the status but still returns 200: the process itself
// is alive and the pipeline may be running venue-only.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.pingers))
	for name, ping := range h.pingers {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
		} else {
			deps[name] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
