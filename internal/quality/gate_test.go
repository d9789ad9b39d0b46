package quality

import (
	"testing"
	"time"

	"github.com/findash/fdp/internal/market"
)

func TestGate_ValidateSymbol(t *testing.T) {
	g := NewGate(DefaultConfig())

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"aapl", "AAPL", false},
		{" msft ", "MSFT", false},
		{"BRK.B", "BRK.B", false},
		{"BF-B", "BF-B", false},
		{"", "", true},
		{"../etc/passwd", "", true},
		{"AAPL;DROP", "", true},
		{"AAPL OR 1=1", "", true},
		{"VERYLONGSYMBOLNAMEOVERLIMIT", "", true},
		{".AAPL", "", true},
	}
	for _, tc := range cases {
		got, err := g.ValidateSymbol(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q should be rejected", tc.in)
			} else if _, ok := err.(*RejectError); !ok {
				t.Errorf("%q: want *RejectError, got %T", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected rejection: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("%q: want %q, got %q", tc.in, tc.want, got)
		}
	}
}

func validSeries() *market.OHLCV {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 10)
	for i := range bars {
		bars[i] = market.Bar{
			Time: base.AddDate(0, 0, i),
			Open: 100, High: 105, Low: 99, Close: 103,
			Volume: 10000,
		}
	}
	return &market.OHLCV{Ticker: "AAPL", Provider: "paper", Bars: bars}
}

func TestGate_ValidateOHLCV(t *testing.T) {
	g := NewGate(DefaultConfig())

	if err := g.ValidateOHLCV(validSeries()); err != nil {
		t.Fatalf("valid series rejected: %v", err)
	}

	t.Run("empty", func(t *testing.T) {
		if err := g.ValidateOHLCV(&market.OHLCV{Ticker: "AAPL"}); err == nil {
			t.Error("empty series should be rejected")
		}
	})

	t.Run("negative price", func(t *testing.T) {
		s := validSeries()
		s.Bars[3].Close = -1
		if err := g.ValidateOHLCV(s); err == nil {
			t.Error("negative close should be rejected")
		}
	})

	t.Run("high below low", func(t *testing.T) {
		s := validSeries()
		s.Bars[5].High = 90
		s.Bars[5].Close = 90
		if err := g.ValidateOHLCV(s); err == nil {
			t.Error("high below low should be rejected")
		}
	})

	t.Run("close out of range", func(t *testing.T) {
		s := validSeries()
		s.Bars[2].Close = 200
		if err := g.ValidateOHLCV(s); err == nil {
			t.Error("close above high should be rejected")
		}
	})

	t.Run("zero volume share", func(t *testing.T) {
		s := validSeries()
		for i := 0; i < 3; i++ {
			s.Bars[i].Volume = 0
		}
		if err := g.ValidateOHLCV(s); err == nil {
			t.Error("30% zero-volume bars should exceed the 5% bound")
		}
	})

	t.Run("duplicate timestamps", func(t *testing.T) {
		s := validSeries()
		s.Bars[4].Time = s.Bars[3].Time
		if err := g.ValidateOHLCV(s); err == nil {
			t.Error("duplicate timestamps should be rejected")
		}
	})
}
