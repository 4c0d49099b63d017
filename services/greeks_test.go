package services

import (
	"math"
	"testing"

	"github.com/nickcoast/IBKR-notional/interfaces"
)

func TestMoneynessEstimator(t *testing.T) {
	est := NewMoneynessEstimator()

	tests := []struct {
		name       string
		right      string
		underlying float64
		strike     float64
		wantDelta  float64
	}{
		{"call in the money", interfaces.RightCall, 110, 100, 0.7},
		{"call out of the money", interfaces.RightCall, 90, 100, 0.3},
		{"call at the money", interfaces.RightCall, 100, 100, 0.3},
		{"long right name", "CALL", 110, 100, 0.7},
		{"put in the money", interfaces.RightPut, 90, 100, -0.7},
		{"put out of the money", interfaces.RightPut, 110, 100, -0.3},
		{"put at the money", interfaces.RightPut, 100, 100, -0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := est.Estimate(tt.right, tt.underlying, tt.strike)
			if g.Delta != tt.wantDelta {
				t.Errorf("Delta = %v, want %v", g.Delta, tt.wantDelta)
			}
			if g.Gamma != 0.01 {
				t.Errorf("Gamma = %v, want 0.01", g.Gamma)
			}
		})
	}
}

func TestResolveGreeks(t *testing.T) {
	est := NewMoneynessEstimator()

	tests := []struct {
		name      string
		quote     *interfaces.Quote
		wantDelta float64
		wantGamma float64
	}{
		{"no quote", nil, 0.7, 0.01},
		{"no broker greeks", &interfaces.Quote{}, 0.7, 0.01},
		{"broker greeks", &interfaces.Quote{Greeks: &interfaces.Greeks{Delta: 0.55, Gamma: 0.02}}, 0.55, 0.02},
		{"nan gamma", &interfaces.Quote{Greeks: &interfaces.Greeks{Delta: 0.55, Gamma: math.NaN()}}, 0.55, 0.01},
		{"nan delta", &interfaces.Quote{Greeks: &interfaces.Greeks{Delta: math.NaN(), Gamma: 0.02}}, 0.7, 0.02},
		{"infinite gamma", &interfaces.Quote{Greeks: &interfaces.Greeks{Delta: 0.55, Gamma: math.Inf(1)}}, 0.55, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := resolveGreeks(est, tt.quote, interfaces.RightCall, 110, 100)
			if g.Delta != tt.wantDelta || g.Gamma != tt.wantGamma {
				t.Errorf("resolveGreeks() = %v / %v, want %v / %v", g.Delta, g.Gamma, tt.wantDelta, tt.wantGamma)
			}
		})
	}
}
