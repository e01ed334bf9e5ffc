package handler

import (
	"log/slog"
	"net/http"

	"github.com/helioslabs/helios/internal/domain"
)

// TradesHandler serves trade history from the trade store.
type TradesHandler struct {
	store  domain.TradeStore
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler.
func NewTradesHandler(store domain.TradeStore, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{store: store, logger: logger}
}

// ListRecent responds with the most recent trades, newest first.
// GET /api/trades?limit=50
func (h *TradesHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "trade persistence not configured")
		return
	}

	trades, err := h.store.ListRecent(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.Error("list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"count":  len(trades),
	})
}
