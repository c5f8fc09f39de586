package types

import "time"

// IntervalType is the bar duration a MarketData record represents.
type IntervalType string

const (
	Interval1Min  IntervalType = "1m"
	Interval5Min  IntervalType = "5m"
	Interval15Min IntervalType = "15m"
	Interval1Hour IntervalType = "1h"
	Interval1Day  IntervalType = "1d"
)

// MarketData represents OHLCV data for a symbol at a point in time,
// carrying whatever named indicators the source or the strategy engine
// has resolved for this bar (e.g. "sma_5", "avg_volume_20").
type MarketData struct {
	Symbol       string             `json:"symbol"`
	Timestamp    time.Time          `json:"timestamp"`
	Open         float64            `json:"open"`
	High         float64            `json:"high"`
	Low          float64            `json:"low"`
	Close        float64            `json:"close"`
	Volume       int64              `json:"volume"`
	IntervalType IntervalType       `json:"interval_type"`
	Indicators   map[string]float64 `json:"indicators,omitempty"`
}

// Quote represents a real-time price quote
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}
