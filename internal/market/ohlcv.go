package market

import "time"

// Bar is a single OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// OHLCV is the raw result of a provider fetch for one ticker.
type OHLCV struct {
	Ticker    string    `json:"ticker"`
	Provider  string    `json:"provider"`
	Bars      []Bar     `json:"bars"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Last returns the most recent bar, or a zero Bar when empty.
func (o *OHLCV) Last() Bar {
	if len(o.Bars) == 0 {
		return Bar{}
	}
	return o.Bars[len(o.Bars)-1]
}

// Empty reports whether the series carries no bars.
func (o *OHLCV) Empty() bool {
	return o == nil || len(o.Bars) == 0
}
