package handler

import (
	"net/http"

	"github.com/helioslabs/helios/internal/domain"
)

// StatusProvider exposes the pipeline's control state.
type StatusProvider interface {
	Status() domain.OrchestratorState
	DailyStats() domain.DailyStats
}

// KillSwitch exposes the kill switch state for the status payload.
type KillSwitch interface {
	Tripped() (bool, string)
}

// StatusHandler serves the pipeline status snapshot.
type StatusHandler struct {
	provider StatusProvider
	ks       KillSwitch // may be nil
}

// NewStatusHandler creates a StatusHandler. ks may be nil.
func NewStatusHandler(provider StatusProvider, ks KillSwitch) *StatusHandler {
	return &StatusHandler{provider: provider, ks: ks}
}

// GetStatus responds with the orchestrator state and kill switch state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"orchestrator": h.provider.Status(),
	}
	if h.ks != nil {
		tripped, reason := h.ks.Tripped()
		payload["kill_switch"] = map[string]any{
			"tripped": tripped,
			"reason":  reason,
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// GetDailyStats responds with today's aggregate counters.
// GET /api/stats/daily
func (h *StatusHandler) GetDailyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.DailyStats())
}
