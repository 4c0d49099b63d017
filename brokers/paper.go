package brokers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nickcoast/IBKR-notional/interfaces"
)

// Compile-time interface check.
var _ interfaces.BrokerSession = (*PaperSession)(nil)

// ErrConnectRefused is returned by a paper session configured to refuse connections
var ErrConnectRefused = errors.New("connection refused")

// PaperSession is an in-memory broker session for demos and tests. It serves
// whatever account data and quotes it was seeded with and makes no network calls.
type PaperSession struct {
	mu             sync.RWMutex
	connected      bool
	connectErr     error
	marketDataErr  error
	marketDataType int
	clientID       int

	accounts  []string
	summary   []*interfaces.AccountValue
	positions []*interfaces.Position
	quotes    map[string]*interfaces.Quote
	params    map[string][]*interfaces.OptionParams
	conIDs    map[string]int64

	marketDataRequests atomic.Int64
}

// NewPaperSession creates an empty paper session
func NewPaperSession() *PaperSession {
	return &PaperSession{
		accounts: []string{"DU0000000"},
		quotes:   make(map[string]*interfaces.Quote),
		params:   make(map[string][]*interfaces.OptionParams),
		conIDs:   make(map[string]int64),
	}
}

// PaperFactory returns a factory that hands out the same seeded session on every connect
func PaperFactory(session *PaperSession) interfaces.SessionFactory {
	return func() interfaces.BrokerSession {
		return session
	}
}

func contractKey(c *interfaces.Contract) string {
	symbol := strings.ToUpper(c.Symbol)
	if c.SecType == interfaces.SecTypeOption {
		right := strings.ToUpper(c.Right)
		if len(right) > 1 {
			right = right[:1]
		}
		return fmt.Sprintf("OPT:%s:%s:%s:%g", symbol, c.Expiry, right, c.Strike)
	}
	return "STK:" + symbol
}

// NaNQuote is a quote with no usable prices
func NaNQuote() *interfaces.Quote {
	return &interfaces.Quote{
		MarketPrice: math.NaN(),
		Last:        math.NaN(),
		Bid:         math.NaN(),
		Ask:         math.NaN(),
	}
}

// SetConnectError makes the next connects fail with err (nil to clear)
func (p *PaperSession) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectErr = err
}

// SetMarketDataError makes every market data request fail with err (nil to clear)
func (p *PaperSession) SetMarketDataError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marketDataErr = err
}

// SetAccountSummary replaces the account summary rows
func (p *PaperSession) SetAccountSummary(values map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.summary = p.summary[:0]
	for tag, value := range values {
		p.summary = append(p.summary, &interfaces.AccountValue{
			Account:  p.accounts[0],
			Tag:      tag,
			Value:    value,
			Currency: "USD",
		})
	}
}

// AddStock adds an equity position
func (p *PaperSession) AddStock(symbol string, size, avgCost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions = append(p.positions, &interfaces.Position{
		Account: p.accounts[0],
		Contract: &interfaces.Contract{
			Symbol:   symbol,
			SecType:  interfaces.SecTypeStock,
			Exchange: interfaces.SmartExchange,
			Currency: "USD",
		},
		Size:    size,
		AvgCost: avgCost,
	})
}

// AddOption adds an option position
func (p *PaperSession) AddOption(symbol, expiry, right string, strike, size, avgCost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions = append(p.positions, &interfaces.Position{
		Account: p.accounts[0],
		Contract: &interfaces.Contract{
			Symbol:     symbol,
			SecType:    interfaces.SecTypeOption,
			Exchange:   interfaces.SmartExchange,
			Currency:   "USD",
			Expiry:     expiry,
			Strike:     strike,
			Right:      right,
			Multiplier: "100",
		},
		Size:    size,
		AvgCost: avgCost,
	})
}

// SetQuote seeds the quote returned for contract
func (p *PaperSession) SetQuote(contract *interfaces.Contract, quote *interfaces.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[contractKey(contract)] = quote
}

// SetStockQuote seeds a stock quote
func (p *PaperSession) SetStockQuote(symbol string, quote *interfaces.Quote) {
	p.SetQuote(&interfaces.Contract{Symbol: symbol, SecType: interfaces.SecTypeStock}, quote)
}

// SetOptionQuote seeds an option quote
func (p *PaperSession) SetOptionQuote(symbol, expiry, right string, strike float64, quote *interfaces.Quote) {
	p.SetQuote(&interfaces.Contract{
		Symbol:  symbol,
		SecType: interfaces.SecTypeOption,
		Expiry:  expiry,
		Right:   right,
		Strike:  strike,
	}, quote)
}

// SetOptionParams seeds the option parameter sets for symbol
func (p *PaperSession) SetOptionParams(symbol string, params ...*interfaces.OptionParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params[strings.ToUpper(symbol)] = params
}

// MarketDataRequests reports how many quotes were requested
func (p *PaperSession) MarketDataRequests() int64 {
	return p.marketDataRequests.Load()
}

// MarketDataType reports the last requested market data type
func (p *PaperSession) MarketDataType() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.marketDataType
}

// Connect marks the session live unless a connect error is configured
func (p *PaperSession) Connect(_ context.Context, _ string, _ int, clientID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected = true
	p.clientID = clientID
	return nil
}

// Disconnect marks the session down
func (p *PaperSession) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// IsConnected reports the simulated socket state
func (p *PaperSession) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// RequestMarketDataType records dataType
func (p *PaperSession) RequestMarketDataType(dataType int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marketDataType = dataType
	return nil
}

// ManagedAccounts returns the simulated account ids
func (p *PaperSession) ManagedAccounts(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.accounts...), nil
}

// AccountSummary returns a copy of the seeded summary rows
func (p *PaperSession) AccountSummary(_ context.Context) ([]*interfaces.AccountValue, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*interfaces.AccountValue, len(p.summary))
	for i, row := range p.summary {
		copied := *row
		out[i] = &copied
	}
	return out, nil
}

// Positions returns a copy of the seeded positions
func (p *PaperSession) Positions(_ context.Context) ([]*interfaces.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*interfaces.Position, len(p.positions))
	for i, pos := range p.positions {
		copied := *pos
		contract := *pos.Contract
		copied.Contract = &contract
		out[i] = &copied
	}
	return out, nil
}

// Portfolio values each seeded position at its seeded quote
func (p *PaperSession) Portfolio(ctx context.Context) ([]*interfaces.PortfolioItem, error) {
	positions, _ := p.Positions(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()

	items := make([]*interfaces.PortfolioItem, 0, len(positions))
	for _, pos := range positions {
		price := pos.AvgCost
		multiplier := 1.0
		if pos.Contract.IsOption() {
			multiplier = 100
			price = 0
		}
		if q, ok := p.quotes[contractKey(pos.Contract)]; ok && q.MarketPrice > 0 {
			price = q.MarketPrice
		}
		items = append(items, &interfaces.PortfolioItem{
			Account:     pos.Account,
			Contract:    pos.Contract,
			Position:    pos.Size,
			MarketPrice: price,
			MarketValue: price * pos.Size * multiplier,
			AverageCost: pos.AvgCost,
		})
	}
	return items, nil
}

// QualifyStock returns a SMART/USD stock contract with a stable synthetic conID
func (p *PaperSession) QualifyStock(_ context.Context, symbol string) (*interfaces.Contract, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	conID, ok := p.conIDs[symbol]
	if !ok {
		conID = int64(len(p.conIDs) + 1)
		p.conIDs[symbol] = conID
	}
	return &interfaces.Contract{
		ConID:    conID,
		Symbol:   symbol,
		SecType:  interfaces.SecTypeStock,
		Exchange: interfaces.SmartExchange,
		Currency: "USD",
	}, nil
}

// MarketData returns the seeded quote, or a quote with no prices
func (p *PaperSession) MarketData(_ context.Context, contract *interfaces.Contract) (*interfaces.Quote, error) {
	p.marketDataRequests.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.marketDataErr != nil {
		return nil, p.marketDataErr
	}
	if q, ok := p.quotes[contractKey(contract)]; ok {
		copied := *q
		return &copied, nil
	}
	return NaNQuote(), nil
}

// OptionParams returns the seeded parameter sets for the underlying
func (p *PaperSession) OptionParams(_ context.Context, underlying *interfaces.Contract) ([]*interfaces.OptionParams, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params[strings.ToUpper(underlying.Symbol)], nil
}

// SeedDemo loads a small account with one stock and two option legs
func SeedDemo(p *PaperSession) {
	p.SetAccountSummary(map[string]string{
		interfaces.TagNetLiquidation:     "100000.00",
		interfaces.TagGrossPositionValue: "50000.00",
		interfaces.TagBuyingPower:        "200000.00",
		"TotalCashValue":                 "50000.00",
	})

	p.AddStock("AAPL", 200, 150)
	p.AddOption("AAPL", "20991217", interfaces.RightCall, 180, 5, 1250)
	p.AddOption("AAPL", "20991217", interfaces.RightPut, 200, -2, 900)

	p.SetStockQuote("AAPL", &interfaces.Quote{MarketPrice: 190, Last: 190, Bid: 189.95, Ask: 190.05})
	p.SetOptionQuote("AAPL", "20991217", interfaces.RightCall, 180, &interfaces.Quote{
		MarketPrice: 15.2, Last: 15.1, Bid: 15.1, Ask: 15.3,
		Greeks: &interfaces.Greeks{Delta: 0.64, Gamma: 0.018},
	})
	p.SetOptionQuote("AAPL", "20991217", interfaces.RightPut, 200, &interfaces.Quote{
		MarketPrice: math.NaN(), Last: math.NaN(), Bid: 14.8, Ask: 15.2,
	})

	strikes := []float64{170, 180, 190, 200, 210}
	p.SetOptionParams("AAPL", &interfaces.OptionParams{
		Exchange:    interfaces.SmartExchange,
		Multiplier:  "100",
		Expirations: []string{"20991217", "20991119"},
		Strikes:     strikes,
	})
	for _, strike := range strikes {
		intrinsicCall := math.Max(190-strike, 0)
		intrinsicPut := math.Max(strike-190, 0)
		p.SetOptionQuote("AAPL", "20991119", interfaces.RightCall, strike, &interfaces.Quote{
			MarketPrice: intrinsicCall + 4, Last: intrinsicCall + 4, Bid: intrinsicCall + 3.9, Ask: intrinsicCall + 4.1,
		})
		p.SetOptionQuote("AAPL", "20991119", interfaces.RightPut, strike, &interfaces.Quote{
			MarketPrice: intrinsicPut + 3, Last: intrinsicPut + 3, Bid: intrinsicPut + 2.9, Ask: intrinsicPut + 3.1,
		})
	}
}
