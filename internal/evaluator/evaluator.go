// Package evaluator turns raw cross-venue spreads into fully-costed,
// confidence-scored opportunities and decides which of them are worth
// admitting. Everything here is pure: no I/O, no clocks, fully deterministic
// given its inputs.
package evaluator

import (
	"github.com/google/uuid"

	"github.com/helioslabs/helios/internal/domain"
)

// FeeConfig holds the cost model and admission thresholds applied to every
// spread. Rates are fractions (0.001 = 0.1%); thresholds are percentages.
type FeeConfig struct {
	// CapitalAllocation is the capital committed per opportunity, in quote
	// currency. Quantity is derived from it.
	CapitalAllocation float64
	// TakerFeeRate is the per-leg taker fee as a fraction of leg notional.
	TakerFeeRate float64
	// MakerFeeRate is kept for venues that rebate resting orders; the cost
	// model assumes taker fills on both legs.
	MakerFeeRate float64
	// NetworkFee is the flat transfer cost between venues, quote currency.
	NetworkFee float64
	// MaxSlippageRate is the assumed worst-case adverse move, applied to the
	// notional of both legs.
	MaxSlippageRate float64
	// MinProfitThreshold is the minimum net profit in percent of gross cost.
	MinProfitThreshold float64
	// MinConfidence is the minimum confidence score for admission.
	MinConfidence float64
}

// Confidence scoring weights. The score deliberately never reaches 100.
const (
	confidenceBase       = 90.0
	confidenceBonusWide  = 5.0 // net profit beyond 2x threshold
	confidenceBonusUltra = 4.0 // net profit beyond 4x threshold
	confidenceThinMalus  = 20.0
	thinProfitPercent    = 0.2
)

// Evaluate prices a spread into an Opportunity: buy the low venue, sell the
// high venue, with both legs charged taker fees and worst-case slippage on
// the full notional of each leg.
func Evaluate(spread domain.Spread, cfg FeeConfig) domain.Opportunity {
	opp := domain.Opportunity{
		ID:        uuid.New().String(),
		Symbol:    spread.Symbol,
		BuyVenue:  spread.LowVenue,
		SellVenue: spread.HighVenue,
		BuyPrice:  spread.LowPrice,
		SellPrice: spread.HighPrice,
		CreatedAt: spread.ObservedAt,
	}
	if spread.LowPrice <= 0 || cfg.CapitalAllocation <= 0 {
		return opp
	}

	opp.Quantity = cfg.CapitalAllocation / spread.LowPrice

	grossCost := spread.LowPrice * opp.Quantity
	grossRevenue := spread.HighPrice * opp.Quantity
	opp.GrossProfit = grossRevenue - grossCost

	opp.Fees = domain.FeeBreakdown{
		Buy:     grossCost * cfg.TakerFeeRate,
		Sell:    grossRevenue * cfg.TakerFeeRate,
		Network: cfg.NetworkFee,
	}
	// Conservative: assume the worst-case shift hits both legs.
	opp.SlippageEstimate = cfg.MaxSlippageRate * (grossCost + grossRevenue)

	opp.NetProfit = opp.GrossProfit - opp.Fees.Total() - opp.SlippageEstimate
	opp.NetProfitPercent = opp.NetProfit / grossCost * 100

	opp.ConfidenceScore = confidence(opp.NetProfit, opp.NetProfitPercent, cfg.MinProfitThreshold)
	return opp
}

// confidence scores an opportunity on [0, domain.MaxConfidence]. The ceiling
// encodes "never claim certainty" and must not be 100.
func confidence(netProfit, netProfitPercent, minProfitThreshold float64) float64 {
	score := 0.0
	if netProfit > 0 {
		score = confidenceBase
	}
	if netProfitPercent > 2*minProfitThreshold {
		score += confidenceBonusWide
	}
	if netProfitPercent > 4*minProfitThreshold {
		score += confidenceBonusUltra
	}
	if netProfitPercent < thinProfitPercent {
		score -= confidenceThinMalus
	}
	if score < 0 {
		return 0
	}
	if score > domain.MaxConfidence {
		return domain.MaxConfidence
	}
	return score
}

// IsViable is the admission predicate. All three gates must hold; a failed
// gate rejects silently because rejection is a frequent, expected outcome,
// not an error.
func IsViable(o domain.Opportunity, cfg FeeConfig) bool {
	return o.NetProfit > 0 &&
		o.NetProfitPercent >= cfg.MinProfitThreshold &&
		o.ConfidenceScore >= cfg.MinConfidence
}
