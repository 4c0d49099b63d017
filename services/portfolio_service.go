package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/sirupsen/logrus"
)

// SessionProvider hands out the live broker session
type SessionProvider interface {
	Session() (interfaces.BrokerSession, error)
}

// PortfolioService aggregates broker positions into per-underlying notional exposure
type PortfolioService struct {
	sessions SessionProvider
	greeks   interfaces.GreeksEstimator
	throttle time.Duration
	logger   *logrus.Logger
}

// NewPortfolioService creates a new portfolio service. throttle is the pause
// after each market data request.
func NewPortfolioService(sessions SessionProvider, greeks interfaces.GreeksEstimator, throttle time.Duration, logger *logrus.Logger) *PortfolioService {
	if greeks == nil {
		greeks = NewMoneynessEstimator()
	}
	return &PortfolioService{
		sessions: sessions,
		greeks:   greeks,
		throttle: throttle,
		logger:   logging.OrDefault(logger),
	}
}

// underlyingTotals accumulates one underlying while positions are folded
type underlyingTotals struct {
	symbol       string
	price        float64
	stockCount   float64
	optionShares float64
	optionActual float64
}

// FetchPortfolio reads the account summary and positions and derives the
// notional figures. Any broker failure discards the whole result.
func (ps *PortfolioService) FetchPortfolio(ctx context.Context) (*interfaces.PortfolioSnapshot, error) {
	session, err := ps.sessions.Session()
	if err != nil {
		return nil, err
	}

	rows, err := session.AccountSummary(ctx)
	if err != nil {
		return nil, interfaces.NewBrokerError("account summary", "", err)
	}
	if len(rows) == 0 {
		return nil, interfaces.ErrNoAccountData
	}

	summary := make(interfaces.AccountSummary, len(rows)+3)
	for _, row := range rows {
		summary.Set(row.Tag, row.Value)
	}

	positions, err := session.Positions(ctx)
	if err != nil {
		return nil, interfaces.NewBrokerError("positions", "", err)
	}

	ps.logger.WithFields(logrus.Fields{
		"summary_rows": len(rows),
		"positions":    len(positions),
	}).Debug("Fetched account data")

	byUnderlying := make(map[string]*underlyingTotals)
	var order []string

	for _, pos := range positions {
		if pos == nil || pos.Contract == nil {
			continue
		}
		symbol := pos.Contract.Symbol

		totals, seen := byUnderlying[symbol]
		if !seen {
			price, err := ps.underlyingPrice(ctx, session, pos)
			if err != nil {
				return nil, err
			}
			totals = &underlyingTotals{symbol: symbol, price: price}
			byUnderlying[symbol] = totals
			order = append(order, symbol)
		}

		switch pos.Contract.SecType {
		case interfaces.SecTypeStock:
			totals.stockCount += pos.Size
		case interfaces.SecTypeOption:
			if err := ps.foldOption(ctx, session, pos, totals); err != nil {
				return nil, err
			}
		default:
			ps.logger.WithFields(logrus.Fields{
				"symbol":   symbol,
				"sec_type": pos.Contract.SecType,
			}).Debug("Skipping unsupported security type")
		}
	}

	aggregates := make([]*interfaces.PositionAggregate, 0, len(order))
	var notionalGross float64
	for _, symbol := range order {
		agg := finalizeAggregate(byUnderlying[symbol])
		notionalGross += agg.TotalNotional
		aggregates = append(aggregates, agg)
	}

	metrics := interfaces.PortfolioMetrics{
		NetLiquidation:     ParseNumeric(summary.Get(interfaces.TagNetLiquidation)),
		GrossPositionValue: ParseNumeric(summary.Get(interfaces.TagGrossPositionValue)),
		BuyingPower:        ParseNumeric(summary.Get(interfaces.TagBuyingPower)),
		NotionalGross:      notionalGross,
	}
	metrics.NotionalLeverage = LeverageRatio(metrics.NotionalGross, metrics.NetLiquidation)
	metrics.StandardLeverage = LeverageRatio(metrics.GrossPositionValue, metrics.NetLiquidation)

	summary.Set(interfaces.TagNotionalGross, strconv.FormatFloat(metrics.NotionalGross, 'f', -1, 64))
	summary.Set(interfaces.TagNotionalLeverage, fmt.Sprintf("%.2f", metrics.NotionalLeverage))
	summary.Set(interfaces.TagStandardLeverage, fmt.Sprintf("%.2f", metrics.StandardLeverage))

	ps.logger.WithFields(logrus.Fields{
		"underlyings": len(aggregates),
		"ngav":        metrics.NotionalGross,
		"nlr":         metrics.NotionalLeverage,
	}).Info("Portfolio aggregated")

	return &interfaces.PortfolioSnapshot{
		AccountSummary:      summary,
		UnderlyingPositions: aggregates,
		LastUpdate:          time.Now(),
		Metrics:             metrics,
	}, nil
}

// underlyingPrice resolves the reference price for the underlying of pos
func (ps *PortfolioService) underlyingPrice(ctx context.Context, session interfaces.BrokerSession, pos *interfaces.Position) (float64, error) {
	contract := pos.Contract
	if contract.IsOption() {
		stock, err := session.QualifyStock(ctx, contract.Symbol)
		if err != nil {
			return 0, interfaces.NewBrokerError("qualify stock", contract.Symbol, err)
		}
		contract = stock
	}

	quote, err := ps.marketData(ctx, session, contract)
	if err != nil {
		return 0, err
	}

	price, source := ReferencePrice(quote, pos)
	if source != "quote" {
		ps.logger.WithFields(logrus.Fields{
			"symbol": contract.Symbol,
			"price":  price,
			"source": source,
		}).Warn("No market price for underlying, using fallback")
	}
	return price, nil
}

// foldOption adds one option leg's share equivalent and premium value
func (ps *PortfolioService) foldOption(ctx context.Context, session interfaces.BrokerSession, pos *interfaces.Position, totals *underlyingTotals) error {
	quote, err := ps.marketData(ctx, session, pos.Contract)
	if err != nil {
		return err
	}

	premium, _ := QuotePrice(quote)

	delta := resolveGreeks(ps.greeks, quote, pos.Contract.Right, totals.price, pos.Contract.Strike).Delta

	totals.optionShares += math.Abs(delta) * OptionMultiplier * pos.Size
	totals.optionActual += premium * OptionMultiplier * math.Abs(pos.Size)
	return nil
}

// marketData requests a quote and then waits out the throttle
func (ps *PortfolioService) marketData(ctx context.Context, session interfaces.BrokerSession, contract *interfaces.Contract) (*interfaces.Quote, error) {
	quote, err := session.MarketData(ctx, contract)
	if err != nil {
		return nil, interfaces.NewBrokerError("market data", contract.Symbol, err)
	}
	if err := sleepContext(ctx, ps.throttle); err != nil {
		return nil, err
	}
	if quote == nil {
		quote = &interfaces.Quote{MarketPrice: math.NaN(), Last: math.NaN(), Bid: math.NaN(), Ask: math.NaN()}
	}
	return quote, nil
}

// finalizeAggregate prices stock and option exposure at the same reference price
func finalizeAggregate(t *underlyingTotals) *interfaces.PositionAggregate {
	stockValue := t.stockCount * t.price
	optionValue := t.optionShares * t.price
	return &interfaces.PositionAggregate{
		Symbol:                  t.symbol,
		StockCount:              t.stockCount,
		StockValue:              stockValue,
		OptionNotionalShares:    t.optionShares,
		OptionNotionalContracts: t.optionShares / OptionMultiplier,
		OptionNotionalValue:     optionValue,
		OptionActualValue:       t.optionActual,
		UnderlyingPrice:         t.price,
		TotalNotional:           stockValue + optionValue,
	}
}

// sleepContext pauses for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
