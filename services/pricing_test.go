package services

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nickcoast/IBKR-notional/interfaces"
)

func quote(market, last, bid, ask float64) *interfaces.Quote {
	return &interfaces.Quote{MarketPrice: market, Last: last, Bid: bid, Ask: ask}
}

func TestQuotePriceFallbackOrder(t *testing.T) {
	nan := math.NaN()

	tests := []struct {
		name   string
		quote  *interfaces.Quote
		want   float64
		wantOK bool
	}{
		{"market price first", quote(101, 100, 99, 103), 101, true},
		{"last when market missing", quote(nan, 100, 99, 103), 100, true},
		{"midpoint when market and last missing", quote(nan, nan, 99, 103), 101, true},
		{"zero market price skipped", quote(0, 100, nan, nan), 100, true},
		{"negative last skipped", quote(nan, -1, 10, 12), 11, true},
		{"one-sided book unusable", quote(nan, nan, 99, nan), 0, false},
		{"nothing usable", quote(nan, nan, nan, nan), 0, false},
		{"nil quote", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := QuotePrice(tt.quote)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("QuotePrice() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestReferencePrice(t *testing.T) {
	nan := math.NaN()
	stock := &interfaces.Position{
		Contract: &interfaces.Contract{Symbol: "MSFT", SecType: interfaces.SecTypeStock},
		AvgCost:  321.5,
	}
	option := &interfaces.Position{
		Contract: &interfaces.Contract{Symbol: "MSFT", SecType: interfaces.SecTypeOption},
		AvgCost:  450,
	}

	tests := []struct {
		name       string
		quote      *interfaces.Quote
		pos        *interfaces.Position
		wantPrice  float64
		wantSource string
	}{
		{"quote wins for stock", quote(330, nan, nan, nan), stock, 330, "quote"},
		{"stock falls back to average cost", quote(nan, nan, nan, nan), stock, 321.5, "avg_cost"},
		{"option falls back to placeholder", quote(nan, nan, nan, nan), option, 100, "placeholder"},
		{"quote wins for option", quote(nan, nan, 10, 20), option, 15, "quote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, source := ReferencePrice(tt.quote, tt.pos)
			if price != tt.wantPrice || source != tt.wantSource {
				t.Errorf("ReferencePrice() = (%v, %q), want (%v, %q)", price, source, tt.wantPrice, tt.wantSource)
			}
		})
	}
}

func TestLeverageRatio(t *testing.T) {
	if got := LeverageRatio(150000, 100000); got != 1.5 {
		t.Errorf("LeverageRatio(150000, 100000) = %v, want 1.5", got)
	}
	if got := LeverageRatio(50000, math.NaN()); got != 0 {
		t.Errorf("LeverageRatio(50000, NaN) = %v, want 0", got)
	}
}

func TestProperty_LeverageGuard(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("non-positive net liquidation yields 0", prop.ForAll(
		func(numerator, nlv float64) bool {
			return LeverageRatio(numerator, nlv) == 0
		},
		gen.Float64Range(-1e9, 1e9),
		gen.Float64Range(-1e9, 0),
	))

	properties.Property("positive net liquidation divides", prop.ForAll(
		func(numerator, nlv float64) bool {
			return LeverageRatio(numerator, nlv) == numerator/nlv
		},
		gen.Float64Range(0, 1e9),
		gen.Float64Range(1, 1e9),
	))

	properties.TestingRun(t)
}
