package brokers

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ interfaces.BrokerSession = (*AlpacaSession)(nil)

// AlpacaConfig holds credentials and endpoints for the Alpaca APIs
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	DataURL   string
}

// AlpacaSession maps the Alpaca REST APIs onto the broker session. Alpaca has no
// socket, so "connected" means the last account probe succeeded and Disconnect
// was not called since.
type AlpacaSession struct {
	config  AlpacaConfig
	trading *alpaca.Client
	data    *marketdata.Client
	options *AlpacaOptionsData

	mu        sync.RWMutex
	connected bool
	accountID string

	logger *logrus.Logger
}

// NewAlpacaSession creates an unconnected Alpaca session
func NewAlpacaSession(config AlpacaConfig, logger *logrus.Logger) *AlpacaSession {
	logger = logging.OrDefault(logger)

	dataOpts := marketdata.ClientOpts{
		APIKey:    config.APIKey,
		APISecret: config.APISecret,
	}
	if config.DataURL != "" {
		dataOpts.BaseURL = config.DataURL
	}

	return &AlpacaSession{
		config: config,
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    config.APIKey,
			APISecret: config.APISecret,
			BaseURL:   config.BaseURL,
		}),
		data:    marketdata.NewClient(dataOpts),
		options: NewAlpacaOptionsData(config.APIKey, config.APISecret, config.BaseURL, config.DataURL, logger),
		logger:  logger,
	}
}

// AlpacaFactory returns a factory building a fresh AlpacaSession per connect
func AlpacaFactory(config AlpacaConfig, logger *logrus.Logger) interfaces.SessionFactory {
	return func() interfaces.BrokerSession {
		return NewAlpacaSession(config, logger)
	}
}

// Connect probes the account endpoint. host, port and client id do not apply to Alpaca.
func (s *AlpacaSession) Connect(_ context.Context, host string, port int, clientID int) error {
	if s.config.APIKey == "" || s.config.APISecret == "" {
		return errors.New("alpaca credentials not configured")
	}

	account, err := s.trading.GetAccount()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.accountID = account.AccountNumber
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"account":        account.AccountNumber,
		"ignored_host":   host,
		"ignored_port":   port,
		"ignored_client": clientID,
	}).Info("Alpaca account reachable")
	return nil
}

// Disconnect forgets the session
func (s *AlpacaSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// IsConnected reports whether the session is open
func (s *AlpacaSession) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// RequestMarketDataType is a no-op; the feed is chosen by the Alpaca subscription
func (s *AlpacaSession) RequestMarketDataType(int) error {
	return nil
}

// ManagedAccounts returns the single account number
func (s *AlpacaSession) ManagedAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accountID == "" {
		return nil, nil
	}
	return []string{s.accountID}, nil
}

// AccountSummary maps the Alpaca account onto IB-style tags
func (s *AlpacaSession) AccountSummary(_ context.Context) ([]*interfaces.AccountValue, error) {
	account, err := s.trading.GetAccount()
	if err != nil {
		return nil, err
	}

	gross := account.LongMarketValue.Abs().Add(account.ShortMarketValue.Abs())
	row := func(tag string, value decimal.Decimal) *interfaces.AccountValue {
		return &interfaces.AccountValue{
			Account:  account.AccountNumber,
			Tag:      tag,
			Value:    value.String(),
			Currency: "USD",
		}
	}
	return []*interfaces.AccountValue{
		row(interfaces.TagNetLiquidation, account.Equity),
		row(interfaces.TagGrossPositionValue, gross),
		row(interfaces.TagBuyingPower, account.BuyingPower),
		row("TotalCashValue", account.Cash),
	}, nil
}

// Positions converts equity and option positions; other asset classes are skipped
func (s *AlpacaSession) Positions(_ context.Context) ([]*interfaces.Position, error) {
	positions, err := s.trading.GetPositions()
	if err != nil {
		return nil, err
	}

	out := make([]*interfaces.Position, 0, len(positions))
	for _, p := range positions {
		contract, err := contractFromAlpaca(p)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", p.Symbol).Warn("Skipping unrecognized position")
			continue
		}
		out = append(out, &interfaces.Position{
			Account:  s.accountID,
			Contract: contract,
			Size:     signedQty(p),
			AvgCost:  p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

// Portfolio returns broker-valued positions
func (s *AlpacaSession) Portfolio(_ context.Context) ([]*interfaces.PortfolioItem, error) {
	positions, err := s.trading.GetPositions()
	if err != nil {
		return nil, err
	}

	out := make([]*interfaces.PortfolioItem, 0, len(positions))
	for _, p := range positions {
		contract, err := contractFromAlpaca(p)
		if err != nil {
			continue
		}
		out = append(out, &interfaces.PortfolioItem{
			Account:       s.accountID,
			Contract:      contract,
			Position:      signedQty(p),
			MarketPrice:   decimalOrZero(p.CurrentPrice),
			MarketValue:   decimalOrZero(p.MarketValue),
			AverageCost:   p.AvgEntryPrice.InexactFloat64(),
			UnrealizedPNL: decimalOrZero(p.UnrealizedPL),
		})
	}
	return out, nil
}

// QualifyStock normalizes symbol; Alpaca symbols need no contract lookup
func (s *AlpacaSession) QualifyStock(_ context.Context, symbol string) (*interfaces.Contract, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errors.New("empty symbol")
	}
	return &interfaces.Contract{
		Symbol:   symbol,
		SecType:  interfaces.SecTypeStock,
		Exchange: interfaces.SmartExchange,
		Currency: "USD",
	}, nil
}

// MarketData reads the latest trade and quote for stocks, or the options snapshot for options
func (s *AlpacaSession) MarketData(ctx context.Context, contract *interfaces.Contract) (*interfaces.Quote, error) {
	if contract.IsOption() {
		symbol := contract.LocalSymbol
		if symbol == "" {
			occ, err := OCCSymbol(contract.Symbol, contract.Expiry, contract.Right, contract.Strike)
			if err != nil {
				return nil, err
			}
			symbol = occ
		}
		return s.options.Snapshot(ctx, symbol)
	}

	quote := NaNQuote()
	quote.Timestamp = time.Now()

	trade, err := s.data.GetLatestTrade(contract.Symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return nil, err
	}
	if trade != nil {
		quote.Last = positiveOrNaN(trade.Price)
		quote.MarketPrice = quote.Last
	}

	latest, err := s.data.GetLatestQuote(contract.Symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, err
	}
	if latest != nil {
		quote.Bid = positiveOrNaN(latest.BidPrice)
		quote.Ask = positiveOrNaN(latest.AskPrice)
	}
	return quote, nil
}

// OptionParams derives expirations and strikes from the contract listing
func (s *AlpacaSession) OptionParams(ctx context.Context, underlying *interfaces.Contract) ([]*interfaces.OptionParams, error) {
	return s.options.OptionParams(ctx, underlying.Symbol)
}

func contractFromAlpaca(p alpaca.Position) (*interfaces.Contract, error) {
	if string(p.AssetClass) == "us_option" {
		return ParseOCCSymbol(p.Symbol)
	}
	return &interfaces.Contract{
		Symbol:   p.Symbol,
		SecType:  interfaces.SecTypeStock,
		Exchange: interfaces.SmartExchange,
		Currency: "USD",
	}, nil
}

// signedQty makes short positions negative regardless of how the API signs qty
func signedQty(p alpaca.Position) float64 {
	qty := math.Abs(p.Qty.InexactFloat64())
	if strings.EqualFold(p.Side, "short") {
		return -qty
	}
	return qty
}

func decimalOrZero(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}
