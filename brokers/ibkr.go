package brokers

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/scmhub/ibapi"
	"github.com/scmhub/ibsync"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ interfaces.BrokerSession = (*IBSession)(nil)

// IBSession talks to TWS or IB Gateway through ibsync
type IBSession struct {
	ib      *ibsync.IB
	timeout time.Duration
	mu      sync.Mutex
	logger  *logrus.Logger
}

// NewIBSession creates an unconnected session. timeout bounds the connect handshake.
func NewIBSession(timeout time.Duration, logger *logrus.Logger) *IBSession {
	return &IBSession{
		ib:      ibsync.NewIB(),
		timeout: timeout,
		logger:  logging.OrDefault(logger),
	}
}

// IBFactory returns a factory building a fresh IBSession per connect
func IBFactory(timeout time.Duration, logger *logrus.Logger) interfaces.SessionFactory {
	return func() interfaces.BrokerSession {
		return NewIBSession(timeout, logger)
	}
}

// Connect opens the API socket
func (s *IBSession) Connect(_ context.Context, host string, port int, clientID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ib.Connect(ibsync.NewConfig(
		ibsync.WithHost(host),
		ibsync.WithPort(port),
		ibsync.WithClientID(int64(clientID)),
		ibsync.WithTimeout(s.timeout),
	))
}

// Disconnect closes the API socket
func (s *IBSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ib.Disconnect()
}

// IsConnected reports the live socket state
func (s *IBSession) IsConnected() bool {
	return s.ib.IsConnected()
}

// RequestMarketDataType switches between live (1), frozen (2), delayed (3) and delayed frozen (4)
func (s *IBSession) RequestMarketDataType(dataType int) error {
	s.ib.ReqMarketDataType(int64(dataType))
	return nil
}

// ManagedAccounts lists the account ids of the login
func (s *IBSession) ManagedAccounts(_ context.Context) ([]string, error) {
	return s.ib.ManagedAccounts(), nil
}

// AccountSummary returns the subscribed account summary rows
func (s *IBSession) AccountSummary(_ context.Context) ([]*interfaces.AccountValue, error) {
	rows := s.ib.AccountSummary()
	out := make([]*interfaces.AccountValue, 0, len(rows))
	for _, row := range rows {
		out = append(out, &interfaces.AccountValue{
			Account:  row.Account,
			Tag:      row.Tag,
			Value:    row.Value,
			Currency: row.Currency,
		})
	}
	return out, nil
}

// Positions returns every position held across managed accounts
func (s *IBSession) Positions(_ context.Context) ([]*interfaces.Position, error) {
	positions := s.ib.Positions()
	out := make([]*interfaces.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, &interfaces.Position{
			Account:  p.Account,
			Contract: fromIBContract(p.Contract),
			Size:     p.Position.Float(),
			AvgCost:  p.AvgCost,
		})
	}
	return out, nil
}

// Portfolio returns broker-valued portfolio items
func (s *IBSession) Portfolio(_ context.Context) ([]*interfaces.PortfolioItem, error) {
	items := s.ib.Portfolio()
	out := make([]*interfaces.PortfolioItem, 0, len(items))
	for _, item := range items {
		out = append(out, &interfaces.PortfolioItem{
			Account:       item.Account,
			Contract:      fromIBContract(item.Contract),
			Position:      item.Position.Float(),
			MarketPrice:   item.MarketPrice,
			MarketValue:   item.MarketValue,
			AverageCost:   item.AverageCost,
			UnrealizedPNL: item.UnrealizedPNL,
			RealizedPNL:   item.RealizedPNL,
		})
	}
	return out, nil
}

// QualifyStock resolves symbol to a SMART/USD stock contract
func (s *IBSession) QualifyStock(_ context.Context, symbol string) (*interfaces.Contract, error) {
	stock := ibsync.NewStock(strings.ToUpper(symbol), interfaces.SmartExchange, "USD")
	if err := s.ib.QualifyContract(stock); err != nil {
		return nil, err
	}
	return fromIBContract(stock), nil
}

// MarketData takes a snapshot quote. Option contracts the broker cannot resolve
// (strikes missing for the requested expiration) yield an empty quote, not an error.
func (s *IBSession) MarketData(_ context.Context, contract *interfaces.Contract) (*interfaces.Quote, error) {
	ibContract := toIBContract(contract)
	if contract.IsOption() {
		if err := s.ib.QualifyContract(ibContract); err != nil {
			s.logger.WithFields(logrus.Fields{
				"symbol": contract.Symbol,
				"expiry": contract.Expiry,
				"strike": contract.Strike,
				"right":  contract.Right,
			}).Debug("Option contract did not qualify")
			return NaNQuote(), nil
		}
	}

	ticker, err := s.ib.Snapshot(ibContract)
	if err != nil {
		return nil, err
	}

	quote := &interfaces.Quote{
		MarketPrice: ticker.MarketPrice(),
		Last:        ticker.Last(),
		Bid:         ticker.Bid(),
		Ask:         ticker.Ask(),
		Timestamp:   time.Now(),
	}
	if greeks := ticker.ModelGreeks(); validDelta(greeks.Delta) {
		quote.Greeks = &interfaces.Greeks{Delta: greeks.Delta, Gamma: greeks.Gamma}
	}
	return quote, nil
}

// OptionParams lists option parameter sets for every exchange
func (s *IBSession) OptionParams(_ context.Context, underlying *interfaces.Contract) ([]*interfaces.OptionParams, error) {
	chains, err := s.ib.ReqSecDefOptParams(underlying.Symbol, "", interfaces.SecTypeStock, underlying.ConID)
	if err != nil {
		return nil, err
	}
	out := make([]*interfaces.OptionParams, 0, len(chains))
	for _, chain := range chains {
		out = append(out, &interfaces.OptionParams{
			Exchange:    chain.Exchange,
			Multiplier:  chain.Multiplier,
			Expirations: append([]string(nil), chain.Expirations...),
			Strikes:     append([]float64(nil), chain.Strikes...),
		})
	}
	return out, nil
}

// validDelta rejects the NaN and out-of-range sentinels sent before greeks are computed
func validDelta(delta float64) bool {
	return !math.IsNaN(delta) && delta >= -1 && delta <= 1 && delta != 0
}

func toIBContract(c *interfaces.Contract) *ibapi.Contract {
	exchange := c.Exchange
	if exchange == "" {
		exchange = interfaces.SmartExchange
	}
	currency := c.Currency
	if currency == "" {
		currency = "USD"
	}

	contract := ibapi.NewContract()
	contract.ConID = c.ConID
	contract.Symbol = c.Symbol
	contract.SecType = c.SecType
	contract.Exchange = exchange
	contract.Currency = currency
	contract.LocalSymbol = c.LocalSymbol
	if c.IsOption() {
		contract.LastTradeDateOrContractMonth = c.Expiry
		contract.Strike = c.Strike
		contract.Right = c.Right
		contract.Multiplier = c.Multiplier
	}
	return contract
}

func fromIBContract(c *ibapi.Contract) *interfaces.Contract {
	if c == nil {
		return nil
	}
	right := c.Right
	switch strings.ToUpper(right) {
	case "CALL":
		right = interfaces.RightCall
	case "PUT":
		right = interfaces.RightPut
	}
	return &interfaces.Contract{
		ConID:       c.ConID,
		Symbol:      c.Symbol,
		SecType:     c.SecType,
		Exchange:    c.Exchange,
		Currency:    c.Currency,
		Expiry:      c.LastTradeDateOrContractMonth,
		Strike:      c.Strike,
		Right:       right,
		Multiplier:  c.Multiplier,
		LocalSymbol: c.LocalSymbol,
	}
}
