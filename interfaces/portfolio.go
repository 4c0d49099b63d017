package interfaces

import "time"

// Account summary tags read or written by the aggregator
const (
	TagNetLiquidation     = "NetLiquidation"
	TagGrossPositionValue = "GrossPositionValue"
	TagBuyingPower        = "BuyingPower"
	TagNotionalGross      = "NGAV (Notional Gross Asset Value)"
	TagNotionalLeverage   = "NLR (Notional Leverage Ratio)"
	TagStandardLeverage   = "Standard Leverage Ratio"
)

// SummaryValue wraps a tag value the way the frontend reads it
type SummaryValue struct {
	Value string `json:"Value"`
}

// AccountSummary maps account tag to value
type AccountSummary map[string]SummaryValue

// Get returns the raw value for tag, or "" when absent
func (s AccountSummary) Get(tag string) string {
	return s[tag].Value
}

// Set stores value under tag
func (s AccountSummary) Set(tag, value string) {
	s[tag] = SummaryValue{Value: value}
}

// PositionAggregate folds every stock and option leg sharing an underlying
type PositionAggregate struct {
	Symbol                  string  `json:"Symbol"`
	StockCount              float64 `json:"Stock Count"`
	StockValue              float64 `json:"Stock Value"`
	// OptionNotionalShares is the delta-weighted share equivalent. Older frontends
	// read this key as contracts; that figure is OptionNotionalContracts.
	OptionNotionalShares    float64 `json:"Option Notional (Shares)"`
	OptionNotionalContracts float64 `json:"Option Notional (Contracts)"` // shares / 100
	OptionNotionalValue     float64 `json:"Option Notional Value"`
	OptionActualValue       float64 `json:"Option Actual Value"`
	UnderlyingPrice         float64 `json:"Underlying Price"`
	TotalNotional           float64 `json:"Notional Position Value (NPV)"`
}

// PortfolioMetrics are the numeric portfolio-wide figures behind the derived tags
type PortfolioMetrics struct {
	NetLiquidation     float64
	GrossPositionValue float64
	BuyingPower        float64
	NotionalGross      float64
	NotionalLeverage   float64
	StandardLeverage   float64
}

// PortfolioSnapshot is one complete refresh of the account
type PortfolioSnapshot struct {
	AccountSummary      AccountSummary       `json:"account_summary"`
	UnderlyingPositions []*PositionAggregate `json:"underlying_positions"`
	LastUpdate          time.Time            `json:"last_update"`
	Metrics             PortfolioMetrics     `json:"-"`
}
