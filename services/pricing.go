package services

import (
	"math"

	"github.com/nickcoast/IBKR-notional/interfaces"
)

// OptionMultiplier is the share count one option contract controls
const OptionMultiplier = 100.0

// OptionPlaceholderPrice stands in for an underlying that returned no usable price
// when only option legs reference it
const OptionPlaceholderPrice = 100.0

func usablePrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// QuotePrice walks live market price, last trade, then bid/ask midpoint.
// ok is false when none of them is usable.
func QuotePrice(q *interfaces.Quote) (float64, bool) {
	if q == nil {
		return 0, false
	}
	if usablePrice(q.MarketPrice) {
		return q.MarketPrice, true
	}
	if usablePrice(q.Last) {
		return q.Last, true
	}
	if usablePrice(q.Bid) && usablePrice(q.Ask) {
		mid := (q.Bid + q.Ask) / 2
		if usablePrice(mid) {
			return mid, true
		}
	}
	return 0, false
}

// ReferencePrice resolves the underlying price for a position: the quote chain
// first, then average cost for equities or the fixed placeholder for options.
func ReferencePrice(q *interfaces.Quote, pos *interfaces.Position) (price float64, source string) {
	if p, ok := QuotePrice(q); ok {
		return p, "quote"
	}
	if pos != nil && pos.Contract != nil && !pos.Contract.IsOption() {
		return pos.AvgCost, "avg_cost"
	}
	return OptionPlaceholderPrice, "placeholder"
}

// LeverageRatio divides numerator by net liquidation, reporting 0 when net liquidation is not positive
func LeverageRatio(numerator, netLiquidation float64) float64 {
	if netLiquidation <= 0 || math.IsNaN(netLiquidation) {
		return 0
	}
	return numerator / netLiquidation
}
