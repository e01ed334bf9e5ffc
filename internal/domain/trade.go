package domain

import "time"

// Mode selects how admitted opportunities are settled.
type Mode string

const (
	// ModeSimulation synthesizes successful outcomes without touching an
	// execution engine.
	ModeSimulation Mode = "simulation"
	// ModePaper routes through the execution engine but places no real
	// orders.
	ModePaper Mode = "paper"
	// ModeLive places real orders.
	ModeLive Mode = "live"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSimulation, ModePaper, ModeLive:
		return true
	default:
		return false
	}
}

// TradeStatus is the lifecycle state of a TradeRecord.
type TradeStatus string

const (
	TradeStatusPending    TradeStatus = "pending"
	TradeStatusExecuted   TradeStatus = "executed"
	TradeStatusFailed     TradeStatus = "failed"
	TradeStatusCancelled  TradeStatus = "cancelled"
	TradeStatusRolledBack TradeStatus = "rolled_back"
)

// Terminal reports whether the status is final. A terminal TradeRecord is
// never mutated again.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusExecuted, TradeStatusFailed, TradeStatusCancelled, TradeStatusRolledBack:
		return true
	default:
		return false
	}
}

// TradeRecord tracks one admitted opportunity from admission to settlement.
// It is created when the opportunity is admitted, updated by the execution
// outcome, and terminal once Status is final.
type TradeRecord struct {
	ID             string      `json:"id"`
	OpportunityID  string      `json:"opportunity_id"`
	Symbol         string      `json:"symbol"`
	BuyVenue       string      `json:"buy_venue"`
	SellVenue      string      `json:"sell_venue"`
	Mode           Mode        `json:"mode"`
	Status         TradeStatus `json:"status"`
	ExpectedProfit float64     `json:"expected_profit"`
	ActualProfit   float64     `json:"actual_profit"`
	Fees           float64     `json:"fees"`
	StartedAt      time.Time   `json:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// DailyStats aggregates one UTC day of pipeline activity.
type DailyStats struct {
	Date             time.Time `json:"date"`
	ProfitLoss       float64   `json:"profit_loss"`
	SpreadsSeen      int64     `json:"spreads_seen"`
	Admitted         int64     `json:"admitted"`
	Rejected         int64     `json:"rejected"`
	Blocked          int64     `json:"blocked"`
	TradesExecuted   int64     `json:"trades_executed"`
	TradesFailed     int64     `json:"trades_failed"`
	LossLimitReached bool      `json:"loss_limit_reached"`
}
