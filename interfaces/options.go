package interfaces

import (
	"fmt"
	"strings"
	"time"
)

// ChainKey identifies one option chain cache slot
type ChainKey struct {
	Ticker     string
	Expiration string
}

// NewChainKey normalizes the ticker so "aapl" and "AAPL" share a slot
func NewChainKey(ticker, expiration string) ChainKey {
	return ChainKey{
		Ticker:     strings.ToUpper(strings.TrimSpace(ticker)),
		Expiration: strings.TrimSpace(expiration),
	}
}

func (k ChainKey) String() string {
	return fmt.Sprintf("%s_%s", k.Ticker, k.Expiration)
}

// OptionRow is one strike of one side of a chain
type OptionRow struct {
	Strike        float64 `json:"Strike"`
	Bid           float64 `json:"Bid"`
	Ask           float64 `json:"Ask"`
	Last          float64 `json:"Last"`
	Price         float64 `json:"Price"`
	Delta         float64 `json:"Delta"`
	Gamma         float64 `json:"Gamma"`
	PctOfStock    float64 `json:"Pct of Stock"`
	DiffFromStock float64 `json:"Diff from Stock"`
}

// OptionChainSnapshot holds every strike for one (ticker, expiration).
// Snapshots are immutable once published.
type OptionChainSnapshot struct {
	Ticker     string       `json:"ticker"`
	Expiration string       `json:"expiration"`
	StockPrice float64      `json:"stock_price"`
	Calls      []*OptionRow `json:"calls"`
	Puts       []*OptionRow `json:"puts"`
	LastUpdate time.Time    `json:"last_update"`
}

// Expiration is a display-ready expiration date
type Expiration struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// GreeksEstimator approximates option greeks when the broker model supplies none
type GreeksEstimator interface {
	Estimate(right string, underlyingPrice, strike float64) Greeks
}
