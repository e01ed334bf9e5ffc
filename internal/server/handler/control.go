package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/helioslabs/helios/internal/domain"
	"github.com/helioslabs/helios/internal/orchestrator"
)

// Controller is the orchestrator surface the control endpoints drive.
type Controller interface {
	Start() error
	Stop() error
	ResetDailyLoss()
	CurrentConfig() orchestrator.Config
	UpdateConfig(cfg orchestrator.Config) error
}

// ControlHandler serves the start/stop/config operations.
type ControlHandler struct {
	ctl    Controller
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(ctl Controller, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{ctl: ctl, logger: logger}
}

// Start re-opens admission of new opportunities.
// POST /api/control/start
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Start(); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("pipeline started via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// Stop halts admission of new opportunities.
// POST /api/control/stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Stop(); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			writeError(w, http.StatusConflict, "not running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("pipeline stopped via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// ResetLoss clears the daily loss accumulator and re-opens the loss breaker.
// POST /api/control/reset-loss
func (h *ControlHandler) ResetLoss(w http.ResponseWriter, r *http.Request) {
	h.ctl.ResetDailyLoss()
	h.logger.Info("daily loss reset via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// configUpdate is the PATCH-style body for config changes. Omitted fields
// keep their current values.
type configUpdate struct {
	Mode               *string  `json:"mode"`
	MaxTradesPerHour   *int     `json:"max_trades_per_hour"`
	DailyLossLimit     *float64 `json:"daily_loss_limit"`
	CapitalAllocation  *float64 `json:"capital_allocation"`
	MinProfitThreshold *float64 `json:"min_profit_threshold"`
	MinConfidence      *float64 `json:"min_confidence"`
}

// GetConfig responds with the active safety policy and cost model.
// GET /api/config
func (h *ControlHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.ctl.CurrentConfig()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":                 cfg.Mode,
		"max_trades_per_hour":  cfg.MaxTradesPerHour,
		"daily_loss_limit":     cfg.DailyLossLimit,
		"capital_allocation":   cfg.Fees.CapitalAllocation,
		"min_profit_threshold": cfg.Fees.MinProfitThreshold,
		"min_confidence":       cfg.Fees.MinConfidence,
	})
}

// UpdateConfig applies a partial config change. Changing the mode while the
// pipeline is running is rejected with 409.
// PUT /api/config
func (h *ControlHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var upd configUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := h.ctl.CurrentConfig()
	if upd.Mode != nil {
		cfg.Mode = domain.Mode(*upd.Mode)
	}
	if upd.MaxTradesPerHour != nil {
		cfg.MaxTradesPerHour = *upd.MaxTradesPerHour
	}
	if upd.DailyLossLimit != nil {
		cfg.DailyLossLimit = *upd.DailyLossLimit
	}
	if upd.CapitalAllocation != nil {
		cfg.Fees.CapitalAllocation = *upd.CapitalAllocation
	}
	if upd.MinProfitThreshold != nil {
		cfg.Fees.MinProfitThreshold = *upd.MinProfitThreshold
	}
	if upd.MinConfidence != nil {
		cfg.Fees.MinConfidence = *upd.MinConfidence
	}

	if err := h.ctl.UpdateConfig(cfg); err != nil {
		if errors.Is(err, domain.ErrModeLocked) {
			writeError(w, http.StatusConflict, "cannot change mode while running")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("config updated via api", slog.String("mode", string(cfg.Mode)))
	h.GetConfig(w, r)
}
