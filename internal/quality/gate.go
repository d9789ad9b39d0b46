// Package quality validates fetched market data before it reaches the
// signal pipeline. A rejection is a terminal bad-data outcome for the fetch,
// not a provider failure.
package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/findash/fdp/internal/market"
)

// RejectError carries the reason a symbol or series failed validation.
type RejectError struct {
	Ticker string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("quality gate rejected %s: %s", e.Ticker, e.Reason)
}

// symbolPattern is the ticker allow-list: letters, digits, and the dot/dash
// class separators brokers use. Anything else is rejected before it can reach
// a URL or a file path.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,19}$`)

// Config tunes the OHLCV checks.
type Config struct {
	MinBars           int     // Minimum series length
	MaxZeroVolumeFrac float64 // Tolerated share of zero-volume bars
}

// DefaultConfig returns the gate tuning used in production.
func DefaultConfig() Config {
	return Config{
		MinBars:           1,
		MaxZeroVolumeFrac: 0.05,
	}
}

// Gate validates symbols and OHLCV series.
type Gate struct {
	config Config
}

// NewGate creates a gate with the given tuning.
func NewGate(config Config) *Gate {
	if config.MinBars < 1 {
		config.MinBars = 1
	}
	return &Gate{config: config}
}

// ValidateSymbol normalizes a ticker and rejects symbols outside the
// allow-list, including path-traversal and injection shapes.
func (g *Gate) ValidateSymbol(ticker string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(ticker))
	if s == "" || len(s) > 20 {
		return "", &RejectError{Ticker: ticker, Reason: "invalid symbol length"}
	}
	if strings.Contains(s, "..") {
		return "", &RejectError{Ticker: ticker, Reason: "path traversal in symbol"}
	}
	if !symbolPattern.MatchString(s) {
		return "", &RejectError{Ticker: ticker, Reason: "symbol outside allow-list"}
	}
	return s, nil
}

// ValidateOHLCV checks series integrity: present bars, positive prices,
// high/low consistency, close within range, and a bounded share of
// zero-volume bars.
func (g *Gate) ValidateOHLCV(data *market.OHLCV) error {
	if data.Empty() {
		return &RejectError{Ticker: tickerOf(data), Reason: "empty series"}
	}
	if len(data.Bars) < g.config.MinBars {
		return &RejectError{
			Ticker: data.Ticker,
			Reason: fmt.Sprintf("series too short: %d < %d bars", len(data.Bars), g.config.MinBars),
		}
	}

	zeroVolume := 0
	for i, b := range data.Bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return &RejectError{Ticker: data.Ticker, Reason: fmt.Sprintf("non-positive price at bar %d", i)}
		}
		if b.High < b.Low {
			return &RejectError{Ticker: data.Ticker, Reason: fmt.Sprintf("high below low at bar %d", i)}
		}
		if b.Close < b.Low || b.Close > b.High {
			return &RejectError{Ticker: data.Ticker, Reason: fmt.Sprintf("close outside range at bar %d", i)}
		}
		if b.Volume < 0 {
			return &RejectError{Ticker: data.Ticker, Reason: fmt.Sprintf("negative volume at bar %d", i)}
		}
		if b.Volume == 0 {
			zeroVolume++
		}
		if i > 0 && !data.Bars[i-1].Time.Before(b.Time) {
			return &RejectError{Ticker: data.Ticker, Reason: fmt.Sprintf("non-increasing timestamp at bar %d", i)}
		}
	}

	if frac := float64(zeroVolume) / float64(len(data.Bars)); frac > g.config.MaxZeroVolumeFrac {
		return &RejectError{
			Ticker: data.Ticker,
			Reason: fmt.Sprintf("%.1f%% zero-volume bars exceeds %.1f%%", frac*100, g.config.MaxZeroVolumeFrac*100),
		}
	}
	return nil
}

func tickerOf(data *market.OHLCV) string {
	if data == nil {
		return ""
	}
	return data.Ticker
}
