package services

import (
	"math"
	"strings"

	"github.com/nickcoast/IBKR-notional/interfaces"
)

// MoneynessEstimator approximates greeks from which side of the strike the
// underlying trades on. It is low fidelity and only used as an exposure weight
// when the broker model returns nothing.
type MoneynessEstimator struct {
	InTheMoneyDelta  float64
	OutOfMoneyDelta  float64
	PlaceholderGamma float64
}

var _ interfaces.GreeksEstimator = (*MoneynessEstimator)(nil)

// NewMoneynessEstimator returns the 0.7 / 0.3 delta, 0.01 gamma estimator
func NewMoneynessEstimator() *MoneynessEstimator {
	return &MoneynessEstimator{
		InTheMoneyDelta:  0.7,
		OutOfMoneyDelta:  0.3,
		PlaceholderGamma: 0.01,
	}
}

// Estimate returns signed delta (positive for calls, negative for puts) and the placeholder gamma
func (e *MoneynessEstimator) Estimate(right string, underlyingPrice, strike float64) interfaces.Greeks {
	if isCall(right) {
		delta := e.OutOfMoneyDelta
		if underlyingPrice > strike {
			delta = e.InTheMoneyDelta
		}
		return interfaces.Greeks{Delta: delta, Gamma: e.PlaceholderGamma}
	}

	delta := -e.OutOfMoneyDelta
	if underlyingPrice < strike {
		delta = -e.InTheMoneyDelta
	}
	return interfaces.Greeks{Delta: delta, Gamma: e.PlaceholderGamma}
}

func isCall(right string) bool {
	return strings.HasPrefix(strings.ToUpper(right), interfaces.RightCall)
}

// resolveGreeks keeps each finite broker greek and estimates the rest
func resolveGreeks(estimator interfaces.GreeksEstimator, quote *interfaces.Quote, right string, underlyingPrice, strike float64) interfaces.Greeks {
	estimate := estimator.Estimate(right, underlyingPrice, strike)
	if quote == nil || quote.Greeks == nil {
		return estimate
	}
	if isFinite(quote.Greeks.Delta) {
		estimate.Delta = quote.Greeks.Delta
	}
	if isFinite(quote.Greeks.Gamma) {
		estimate.Gamma = quote.Greeks.Gamma
	}
	return estimate
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
