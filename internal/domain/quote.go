package domain

import "time"

// PriceQuote is a single venue's price for one symbol at one instant. Quotes
// are ephemeral: the scanner overwrites each venue's quote on every poll
// cycle, and only the scanner's per-venue cache owns them.
type PriceQuote struct {
	Venue      string        `json:"venue"`
	Symbol     string        `json:"symbol"`
	Price      float64       `json:"price"`
	ObservedAt time.Time     `json:"observed_at"`
	Latency    time.Duration `json:"latency"`
}

// Spread is the widest price gap across venues for one symbol on one scan
// tick. It is derived and immutable: valid only for the instant it was
// computed. HighPrice >= LowPrice always holds.
type Spread struct {
	Symbol        string    `json:"symbol"`
	LowVenue      string    `json:"low_venue"`
	HighVenue     string    `json:"high_venue"`
	LowPrice      float64   `json:"low_price"`
	HighPrice     float64   `json:"high_price"`
	SpreadPercent float64   `json:"spread_percent"`
	ObservedAt    time.Time `json:"observed_at"`
}
