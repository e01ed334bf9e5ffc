package domain

import "time"

// MaxConfidence is the ceiling for Opportunity.ConfidenceScore. The score
// never reaches 100: the evaluator must not claim certainty about a trade
// that has not settled yet.
const MaxConfidence = 99.9

// FeeBreakdown itemizes the costs charged against an opportunity's gross
// profit. Buy and Sell are the taker fees on each leg; Network covers
// withdrawal/transfer cost between venues.
type FeeBreakdown struct {
	Buy     float64 `json:"buy"`
	Sell    float64 `json:"sell"`
	Network float64 `json:"network"`
}

// Total returns the sum of all fee components.
func (f FeeBreakdown) Total() float64 {
	return f.Buy + f.Sell + f.Network
}

// Opportunity is a fully-costed, confidence-scored candidate trade derived
// from a Spread. It is immutable once evaluated. The profit identity
// NetProfit = GrossProfit - Fees.Total() - SlippageEstimate holds exactly.
type Opportunity struct {
	ID               string       `json:"id"`
	Symbol           string       `json:"symbol"`
	BuyVenue         string       `json:"buy_venue"`
	SellVenue        string       `json:"sell_venue"`
	BuyPrice         float64      `json:"buy_price"`
	SellPrice        float64      `json:"sell_price"`
	Quantity         float64      `json:"quantity"`
	GrossProfit      float64      `json:"gross_profit"`
	Fees             FeeBreakdown `json:"fees"`
	SlippageEstimate float64      `json:"slippage_estimate"`
	NetProfit        float64      `json:"net_profit"`
	NetProfitPercent float64      `json:"net_profit_percent"`
	ConfidenceScore  float64      `json:"confidence_score"`
	CreatedAt        time.Time    `json:"created_at"`
}

// RequiredCapital returns the capital that must be reserved before the buy
// leg can be placed.
func (o Opportunity) RequiredCapital() float64 {
	return o.BuyPrice * o.Quantity
}
