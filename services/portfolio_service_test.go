package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nickcoast/IBKR-notional/brokers"
	"github.com/nickcoast/IBKR-notional/interfaces"
)

func leverageAccount(paper *brokers.PaperSession) {
	paper.SetAccountSummary(map[string]string{
		interfaces.TagNetLiquidation:     "100000",
		interfaces.TagGrossPositionValue: "50000",
		interfaces.TagBuyingPower:        "$200,000.00",
	})
}

func TestFetchPortfolioLeverage(t *testing.T) {
	paper := brokers.NewPaperSession()
	leverageAccount(paper)

	paper.AddStock("SPY", 500, 90)
	paper.AddOption("SPY", "20991217", interfaces.RightCall, 90, 20, 1100)
	paper.SetStockQuote("SPY", &interfaces.Quote{MarketPrice: 100})
	paper.SetOptionQuote("SPY", "20991217", interfaces.RightCall, 90, &interfaces.Quote{
		MarketPrice: 12,
		Greeks:      &interfaces.Greeks{Delta: 0.5, Gamma: 0.02},
	})

	ps := NewPortfolioService(connectedPaper(t, paper), nil, 0, quietLogger())
	snapshot, err := ps.FetchPortfolio(context.Background())
	if err != nil {
		t.Fatalf("FetchPortfolio() error: %v", err)
	}

	if got := snapshot.AccountSummary.Get(interfaces.TagNotionalLeverage); got != "1.50" {
		t.Errorf("NLR = %q, want %q", got, "1.50")
	}
	if got := snapshot.AccountSummary.Get(interfaces.TagStandardLeverage); got != "0.50" {
		t.Errorf("SLR = %q, want %q", got, "0.50")
	}
	if got := snapshot.AccountSummary.Get(interfaces.TagNotionalGross); got != "150000" {
		t.Errorf("NGAV = %q, want %q", got, "150000")
	}
	if got := snapshot.AccountSummary.Get(interfaces.TagBuyingPower); got != "$200,000.00" {
		t.Errorf("BuyingPower = %q, want raw broker value", got)
	}
	if snapshot.Metrics.BuyingPower != 200000 {
		t.Errorf("Metrics.BuyingPower = %v, want 200000", snapshot.Metrics.BuyingPower)
	}

	if len(snapshot.UnderlyingPositions) != 1 {
		t.Fatalf("len(UnderlyingPositions) = %d, want 1", len(snapshot.UnderlyingPositions))
	}
	agg := snapshot.UnderlyingPositions[0]
	checks := []struct {
		field     string
		got, want float64
	}{
		{"StockCount", agg.StockCount, 500},
		{"StockValue", agg.StockValue, 50000},
		{"OptionNotionalShares", agg.OptionNotionalShares, 1000},
		{"OptionNotionalContracts", agg.OptionNotionalContracts, 10},
		{"OptionNotionalValue", agg.OptionNotionalValue, 100000},
		{"OptionActualValue", agg.OptionActualValue, 24000},
		{"UnderlyingPrice", agg.UnderlyingPrice, 100},
		{"TotalNotional", agg.TotalNotional, 150000},
	}
	for _, c := range checks {
		if !approxEqual(c.got, c.want, 1e-9) {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestFetchPortfolioEmptyPositions(t *testing.T) {
	paper := brokers.NewPaperSession()
	leverageAccount(paper)

	ps := NewPortfolioService(connectedPaper(t, paper), nil, 0, quietLogger())
	snapshot, err := ps.FetchPortfolio(context.Background())
	if err != nil {
		t.Fatalf("FetchPortfolio() error: %v", err)
	}

	if len(snapshot.UnderlyingPositions) != 0 {
		t.Errorf("len(UnderlyingPositions) = %d, want 0", len(snapshot.UnderlyingPositions))
	}
	if got := snapshot.AccountSummary.Get(interfaces.TagNotionalGross); got != "0" {
		t.Errorf("NGAV = %q, want %q", got, "0")
	}
	if got := snapshot.AccountSummary.Get(interfaces.TagNotionalLeverage); got != "0.00" {
		t.Errorf("NLR = %q, want %q", got, "0.00")
	}
	if got := snapshot.AccountSummary.Get(interfaces.TagStandardLeverage); got != "0.50" {
		t.Errorf("SLR = %q, want %q", got, "0.50")
	}
}

func TestFetchPortfolioFallbackPrices(t *testing.T) {
	paper := brokers.NewPaperSession()
	leverageAccount(paper)

	// No quotes are seeded: the stock uses its average cost, the option-only
	// underlying uses the placeholder and the moneyness delta.
	paper.AddStock("XYZ", 10, 42)
	paper.AddOption("QQQ", "20991217", interfaces.RightCall, 150, 2, 300)

	ps := NewPortfolioService(connectedPaper(t, paper), nil, 0, quietLogger())
	snapshot, err := ps.FetchPortfolio(context.Background())
	if err != nil {
		t.Fatalf("FetchPortfolio() error: %v", err)
	}
	if len(snapshot.UnderlyingPositions) != 2 {
		t.Fatalf("len(UnderlyingPositions) = %d, want 2", len(snapshot.UnderlyingPositions))
	}

	xyz := snapshot.UnderlyingPositions[0]
	if xyz.Symbol != "XYZ" || xyz.UnderlyingPrice != 42 || xyz.TotalNotional != 420 {
		t.Errorf("XYZ = %+v, want price 42 and notional 420", xyz)
	}

	qqq := snapshot.UnderlyingPositions[1]
	if qqq.UnderlyingPrice != OptionPlaceholderPrice {
		t.Errorf("QQQ UnderlyingPrice = %v, want %v", qqq.UnderlyingPrice, OptionPlaceholderPrice)
	}
	// Out of the money call: 0.3 * 100 * 2
	if !approxEqual(qqq.OptionNotionalShares, 60, 1e-9) {
		t.Errorf("QQQ OptionNotionalShares = %v, want 60", qqq.OptionNotionalShares)
	}
	if qqq.OptionActualValue != 0 {
		t.Errorf("QQQ OptionActualValue = %v, want 0 without a premium", qqq.OptionActualValue)
	}
}

func TestFetchPortfolioResolvesUnderlyingOnce(t *testing.T) {
	paper := brokers.NewPaperSession()
	leverageAccount(paper)
	paper.AddStock("AAPL", 100, 150)
	paper.AddStock("AAPL", 50, 160)
	paper.SetStockQuote("AAPL", &interfaces.Quote{MarketPrice: 200})

	ps := NewPortfolioService(connectedPaper(t, paper), nil, 0, quietLogger())
	snapshot, err := ps.FetchPortfolio(context.Background())
	if err != nil {
		t.Fatalf("FetchPortfolio() error: %v", err)
	}

	if got := paper.MarketDataRequests(); got != 1 {
		t.Errorf("MarketDataRequests() = %d, want 1", got)
	}
	if got := snapshot.UnderlyingPositions[0].StockCount; got != 150 {
		t.Errorf("StockCount = %v, want 150", got)
	}
}

func TestFetchPortfolioErrors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		cm := NewConnectionManager(brokers.PaperFactory(brokers.NewPaperSession()), quietLogger())
		ps := NewPortfolioService(cm, nil, 0, quietLogger())
		if _, err := ps.FetchPortfolio(context.Background()); !errors.Is(err, interfaces.ErrNotConnected) {
			t.Errorf("FetchPortfolio() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("empty summary", func(t *testing.T) {
		paper := brokers.NewPaperSession()
		paper.AddStock("AAPL", 1, 1)
		ps := NewPortfolioService(connectedPaper(t, paper), nil, 0, quietLogger())
		if _, err := ps.FetchPortfolio(context.Background()); !errors.Is(err, interfaces.ErrNoAccountData) {
			t.Errorf("FetchPortfolio() error = %v, want ErrNoAccountData", err)
		}
	})

	t.Run("market data failure discards result", func(t *testing.T) {
		paper := brokers.NewPaperSession()
		leverageAccount(paper)
		paper.AddStock("AAPL", 1, 1)
		boom := errors.New("pacing violation")
		paper.SetMarketDataError(boom)

		ps := NewPortfolioService(connectedPaper(t, paper), nil, 0, quietLogger())
		snapshot, err := ps.FetchPortfolio(context.Background())
		if snapshot != nil {
			t.Errorf("snapshot = %+v, want nil", snapshot)
		}
		if !errors.Is(err, boom) {
			t.Errorf("FetchPortfolio() error = %v, want wrapped %v", err, boom)
		}
		var brokerErr *interfaces.BrokerError
		if !errors.As(err, &brokerErr) || brokerErr.Symbol != "AAPL" {
			t.Errorf("error = %v, want BrokerError for AAPL", err)
		}
	})
}

func TestProperty_OptionShareEquivalentSum(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("share equivalent is the sum of |delta| * 100 * size", prop.ForAll(
		func(d1, d2 float64, s1, s2 int) bool {
			paper := brokers.NewPaperSession()
			leverageAccount(paper)
			paper.SetStockQuote("IWM", &interfaces.Quote{MarketPrice: 200})
			paper.AddOption("IWM", "20991217", interfaces.RightCall, 190, float64(s1), 0)
			paper.AddOption("IWM", "20991217", interfaces.RightPut, 210, float64(s2), 0)
			paper.SetOptionQuote("IWM", "20991217", interfaces.RightCall, 190, &interfaces.Quote{
				MarketPrice: 5, Greeks: &interfaces.Greeks{Delta: d1},
			})
			paper.SetOptionQuote("IWM", "20991217", interfaces.RightPut, 210, &interfaces.Quote{
				MarketPrice: 5, Greeks: &interfaces.Greeks{Delta: d2},
			})

			cm := NewConnectionManager(brokers.PaperFactory(paper), quietLogger())
			if !cm.Connect(context.Background(), "127.0.0.1", 7497, nil) {
				return false
			}
			snapshot, err := NewPortfolioService(cm, nil, 0, quietLogger()).FetchPortfolio(context.Background())
			if err != nil || len(snapshot.UnderlyingPositions) != 1 {
				return false
			}

			agg := snapshot.UnderlyingPositions[0]
			want := math.Abs(d1)*100*float64(s1) + math.Abs(d2)*100*float64(s2)
			return approxEqual(agg.OptionNotionalShares, want, 1e-6) &&
				approxEqual(agg.TotalNotional, want*200, 1e-3)
		},
		gen.Float64Range(-1, 1),
		gen.Float64Range(-1, 1),
		gen.IntRange(-50, 50),
		gen.IntRange(-50, 50),
	))

	properties.TestingRun(t)
}
