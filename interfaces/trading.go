package interfaces

import (
	"context"
	"time"
)

// Security types reported by the broker session
const (
	SecTypeStock  = "STK"
	SecTypeOption = "OPT"
)

// Option rights
const (
	RightCall = "C"
	RightPut  = "P"
)

// SmartExchange is the broker's default routing venue
const SmartExchange = "SMART"

// BrokerSession defines the operations the service needs from a live brokerage session.
// Implementations must be safe for use from several goroutines.
type BrokerSession interface {
	Connect(ctx context.Context, host string, port int, clientID int) error
	Disconnect() error
	// IsConnected reports the live socket state, never a cached flag
	IsConnected() bool
	RequestMarketDataType(dataType int) error

	ManagedAccounts(ctx context.Context) ([]string, error)
	AccountSummary(ctx context.Context) ([]*AccountValue, error)
	Positions(ctx context.Context) ([]*Position, error)
	Portfolio(ctx context.Context) ([]*PortfolioItem, error)

	QualifyStock(ctx context.Context, symbol string) (*Contract, error)
	MarketData(ctx context.Context, contract *Contract) (*Quote, error)
	OptionParams(ctx context.Context, underlying *Contract) ([]*OptionParams, error)
}

// SessionFactory builds a fresh, unconnected broker session
type SessionFactory func() BrokerSession

// Contract identifies a tradable instrument
type Contract struct {
	ConID       int64
	Symbol      string
	SecType     string // "STK" or "OPT"
	Exchange    string
	Currency    string
	Expiry      string // YYYYMMDD for options
	Strike      float64
	Right       string // "C" or "P"
	Multiplier  string
	LocalSymbol string // broker-native symbol, e.g. an OCC option symbol
}

// IsOption reports whether the contract is an option
func (c *Contract) IsOption() bool {
	return c.SecType == SecTypeOption
}

// AccountValue is one raw account summary row
type AccountValue struct {
	Account  string
	Tag      string
	Value    string
	Currency string
}

// Position is one raw broker position
type Position struct {
	Account  string
	Contract *Contract
	Size     float64
	AvgCost  float64
}

// PortfolioItem is a broker-valued position, used by the diagnostics endpoints
type PortfolioItem struct {
	Account       string
	Contract      *Contract
	Position      float64
	MarketPrice   float64
	MarketValue   float64
	AverageCost   float64
	UnrealizedPNL float64
	RealizedPNL   float64
}

// Greeks holds broker model sensitivities for an option
type Greeks struct {
	Delta float64
	Gamma float64
}

// Quote is a market data snapshot. Absent prices are NaN.
type Quote struct {
	MarketPrice float64
	Last        float64
	Bid         float64
	Ask         float64
	Greeks      *Greeks // nil when the broker model supplied none
	Timestamp   time.Time
}

// OptionParams is one exchange's option parameter set for an underlying
type OptionParams struct {
	Exchange    string
	Multiplier  string
	Expirations []string
	Strikes     []float64
}
