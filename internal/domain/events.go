package domain

import "time"

// EventType identifies a pipeline notification.
type EventType string

const (
	// EventSpreads carries the batch of significant spreads for one scan tick.
	EventSpreads EventType = "spreads"
	// EventOpportunityBlocked signals a risk-oracle veto before reservation.
	EventOpportunityBlocked EventType = "opportunity-blocked"
	// EventTradeCompleted signals a successfully settled trade.
	EventTradeCompleted EventType = "trade-completed"
	// EventTradeFailed signals an execution failure. Capital was released.
	EventTradeFailed EventType = "trade-failed"
	// EventTradeRollback signals a partially executed trade that was unwound.
	EventTradeRollback EventType = "trade-rollback"
	// EventSafetyLimit signals a tripped safety gate (daily loss breaker).
	// Kill-switch subscribers react to this.
	EventSafetyLimit EventType = "safety-limit"
)

// Event is an in-process pipeline notification. Exactly one of Spreads,
// Opportunity, or Trade is populated depending on Type; Reason carries
// human-readable context for blocked/safety events.
type Event struct {
	Type        EventType    `json:"type"`
	At          time.Time    `json:"at"`
	Spreads     []Spread     `json:"spreads,omitempty"`
	Opportunity *Opportunity `json:"opportunity,omitempty"`
	Trade       *TradeRecord `json:"trade,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}
