package domain

import "time"

// OrchestratorState is a point-in-time snapshot of the pipeline's control
// state, served by the status surface. Counter fields roll over on hour/day
// boundaries driven by the injected clock.
type OrchestratorState struct {
	Mode                  Mode      `json:"mode"`
	IsRunning             bool      `json:"is_running"`
	TradesThisHour        int       `json:"trades_this_hour"`
	HourWindowStart       time.Time `json:"hour_window_start"`
	DailyProfitLoss       float64   `json:"daily_profit_loss"`
	DailyLossLimitReached bool      `json:"daily_loss_limit_reached"`
	QueueDepth            int       `json:"queue_depth"`
	TotalCapital          float64   `json:"total_capital"`
	ReservedCapital       float64   `json:"reserved_capital"`
	AvailableCapital      float64   `json:"available_capital"`
}
