package services

import (
	"context"
	"sort"
	"time"

	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/sirupsen/logrus"
)

const expirationLayout = "20060102"

// OptionChainService reads option expirations and strike rows for an underlying.
// Only the SMART exchange parameter set is considered.
type OptionChainService struct {
	sessions      SessionProvider
	greeks        interfaces.GreeksEstimator
	stockThrottle time.Duration
	quoteThrottle time.Duration
	logger        *logrus.Logger
}

// NewOptionChainService creates a new option chain service. stockThrottle follows the
// underlying quote request and quoteThrottle follows each option quote request.
func NewOptionChainService(sessions SessionProvider, greeks interfaces.GreeksEstimator, stockThrottle, quoteThrottle time.Duration, logger *logrus.Logger) *OptionChainService {
	if greeks == nil {
		greeks = NewMoneynessEstimator()
	}
	return &OptionChainService{
		sessions:      sessions,
		greeks:        greeks,
		stockThrottle: stockThrottle,
		quoteThrottle: quoteThrottle,
		logger:        logging.OrDefault(logger),
	}
}

// ListExpirations returns the underlying price and the sorted SMART expirations for ticker
func (s *OptionChainService) ListExpirations(ctx context.Context, ticker string) (float64, []string, error) {
	session, err := s.sessions.Session()
	if err != nil {
		return 0, nil, err
	}

	_, price, params, err := s.underlying(ctx, session, ticker)
	if err != nil {
		s.logger.WithError(err).WithField("ticker", ticker).Error("Failed to list expirations")
		return 0, nil, err
	}

	expirations := append([]string(nil), params.Expirations...)
	sort.Strings(expirations)
	return price, expirations, nil
}

// FetchChain builds call and put rows for every SMART strike of ticker at expiration.
// Any broker failure aborts without partial rows.
func (s *OptionChainService) FetchChain(ctx context.Context, ticker, expiration string) (*interfaces.OptionChainSnapshot, error) {
	session, err := s.sessions.Session()
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"ticker":     ticker,
		"expiration": expiration,
	})

	stock, price, params, err := s.underlying(ctx, session, ticker)
	if err != nil {
		log.WithError(err).Error("Failed to resolve underlying for chain")
		return nil, err
	}

	strikes := append([]float64(nil), params.Strikes...)
	sort.Float64s(strikes)

	calls := make([]*interfaces.OptionRow, 0, len(strikes))
	puts := make([]*interfaces.OptionRow, 0, len(strikes))

	for _, strike := range strikes {
		callQuote, err := s.optionQuote(ctx, session, stock, expiration, strike, interfaces.RightCall)
		if err != nil {
			log.WithError(err).WithField("strike", strike).Error("Failed to fetch call quote")
			return nil, err
		}
		putQuote, err := s.optionQuote(ctx, session, stock, expiration, strike, interfaces.RightPut)
		if err != nil {
			log.WithError(err).WithField("strike", strike).Error("Failed to fetch put quote")
			return nil, err
		}

		calls = append(calls, s.buildRow(interfaces.RightCall, strike, price, callQuote))
		puts = append(puts, s.buildRow(interfaces.RightPut, strike, price, putQuote))
	}

	log.WithField("strikes", len(strikes)).Debug("Fetched option chain")

	return &interfaces.OptionChainSnapshot{
		Ticker:     stock.Symbol,
		Expiration: expiration,
		StockPrice: price,
		Calls:      calls,
		Puts:       puts,
		LastUpdate: time.Now(),
	}, nil
}

// underlying qualifies the stock, prices it and picks its SMART option parameters
func (s *OptionChainService) underlying(ctx context.Context, session interfaces.BrokerSession, ticker string) (*interfaces.Contract, float64, *interfaces.OptionParams, error) {
	stock, err := session.QualifyStock(ctx, ticker)
	if err != nil {
		return nil, 0, nil, interfaces.NewBrokerError("qualify stock", ticker, err)
	}

	quote, err := session.MarketData(ctx, stock)
	if err != nil {
		return nil, 0, nil, interfaces.NewBrokerError("market data", ticker, err)
	}
	if err := sleepContext(ctx, s.stockThrottle); err != nil {
		return nil, 0, nil, err
	}
	price, ok := QuotePrice(quote)
	if !ok {
		return nil, 0, nil, interfaces.NewBrokerError("market data", ticker, interfaces.ErrNoPrice)
	}

	params, err := session.OptionParams(ctx, stock)
	if err != nil {
		return nil, 0, nil, interfaces.NewBrokerError("option params", ticker, err)
	}
	for _, p := range params {
		if p != nil && p.Exchange == interfaces.SmartExchange {
			return stock, price, p, nil
		}
	}
	return nil, 0, nil, interfaces.NewBrokerError("option params", ticker, interfaces.ErrNoSmartChain)
}

func (s *OptionChainService) optionQuote(ctx context.Context, session interfaces.BrokerSession, stock *interfaces.Contract, expiration string, strike float64, right string) (*interfaces.Quote, error) {
	contract := &interfaces.Contract{
		Symbol:     stock.Symbol,
		SecType:    interfaces.SecTypeOption,
		Exchange:   interfaces.SmartExchange,
		Currency:   stock.Currency,
		Expiry:     expiration,
		Strike:     strike,
		Right:      right,
		Multiplier: "100",
	}

	quote, err := session.MarketData(ctx, contract)
	if err != nil {
		return nil, interfaces.NewBrokerError("market data", stock.Symbol, err)
	}
	if err := sleepContext(ctx, s.quoteThrottle); err != nil {
		return nil, err
	}
	return quote, nil
}

// buildRow derives the display fields from already fetched prices
func (s *OptionChainService) buildRow(right string, strike, stockPrice float64, quote *interfaces.Quote) *interfaces.OptionRow {
	row := &interfaces.OptionRow{Strike: strike}
	if quote != nil {
		row.Bid = finiteOrZero(quote.Bid)
		row.Ask = finiteOrZero(quote.Ask)
		row.Last = finiteOrZero(quote.Last)
	}
	row.Price, _ = QuotePrice(quote)

	greeks := resolveGreeks(s.greeks, quote, right, stockPrice, strike)
	row.Delta = greeks.Delta
	row.Gamma = greeks.Gamma

	if stockPrice > 0 {
		row.PctOfStock = row.Price / stockPrice * 100
	}
	row.DiffFromStock = DiffFromIntrinsic(right, row.Price, stockPrice, strike)
	return row
}

// DiffFromIntrinsic is the option price minus its intrinsic value when in the money,
// or the full price when out of the money.
func DiffFromIntrinsic(right string, price, stockPrice, strike float64) float64 {
	if isCall(right) {
		if stockPrice > strike {
			return price - (stockPrice - strike)
		}
		return price
	}
	if stockPrice < strike {
		return price - (strike - stockPrice)
	}
	return price
}

// FormatExpirations labels YYYYMMDD tokens as YYYY-MM-DD, keeping the raw token
// as the label when it does not parse.
func FormatExpirations(tokens []string) []interfaces.Expiration {
	out := make([]interfaces.Expiration, 0, len(tokens))
	for _, token := range tokens {
		label := token
		if t, err := time.Parse(expirationLayout, token); err == nil {
			label = t.Format("2006-01-02")
		}
		out = append(out, interfaces.Expiration{Value: token, Label: label})
	}
	return out
}
