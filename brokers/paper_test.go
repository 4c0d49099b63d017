package brokers

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/nickcoast/IBKR-notional/interfaces"
)

func TestPaperConnect(t *testing.T) {
	paper := NewPaperSession()
	ctx := context.Background()

	paper.SetConnectError(ErrConnectRefused)
	if err := paper.Connect(ctx, "127.0.0.1", 7497, 1); !errors.Is(err, ErrConnectRefused) {
		t.Fatalf("Connect() error = %v, want ErrConnectRefused", err)
	}
	if paper.IsConnected() {
		t.Fatal("IsConnected() = true after refused connect")
	}

	paper.SetConnectError(nil)
	if err := paper.Connect(ctx, "127.0.0.1", 7497, 1); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if !paper.IsConnected() {
		t.Fatal("IsConnected() = false after connect")
	}
	if err := paper.Disconnect(); err != nil || paper.IsConnected() {
		t.Fatalf("Disconnect() = %v, connected = %v", err, paper.IsConnected())
	}
}

func TestPaperMarketData(t *testing.T) {
	paper := NewPaperSession()
	ctx := context.Background()

	paper.SetStockQuote("aapl", &interfaces.Quote{MarketPrice: 190})
	paper.SetOptionQuote("AAPL", "20991217", "CALL", 180, &interfaces.Quote{MarketPrice: 15})

	stock, err := paper.QualifyStock(ctx, " aapl ")
	if err != nil {
		t.Fatalf("QualifyStock() error: %v", err)
	}
	if stock.Symbol != "AAPL" || stock.Exchange != interfaces.SmartExchange || stock.ConID == 0 {
		t.Errorf("QualifyStock() = %+v", stock)
	}
	again, _ := paper.QualifyStock(ctx, "AAPL")
	if again.ConID != stock.ConID {
		t.Errorf("ConID changed between qualifications: %d then %d", stock.ConID, again.ConID)
	}

	q, err := paper.MarketData(ctx, stock)
	if err != nil || q.MarketPrice != 190 {
		t.Fatalf("MarketData(stock) = (%+v, %v), want price 190", q, err)
	}
	q.MarketPrice = 1
	if q2, _ := paper.MarketData(ctx, stock); q2.MarketPrice != 190 {
		t.Error("MarketData returned a shared quote that callers can mutate")
	}

	option := &interfaces.Contract{Symbol: "AAPL", SecType: interfaces.SecTypeOption, Expiry: "20991217", Right: "C", Strike: 180}
	if q, _ := paper.MarketData(ctx, option); q.MarketPrice != 15 {
		t.Errorf("MarketData(option) price = %v, want 15", q.MarketPrice)
	}

	missing := &interfaces.Contract{Symbol: "MSFT", SecType: interfaces.SecTypeStock}
	if q, _ := paper.MarketData(ctx, missing); !math.IsNaN(q.MarketPrice) {
		t.Errorf("MarketData(unseeded) price = %v, want NaN", q.MarketPrice)
	}

	if got := paper.MarketDataRequests(); got != 4 {
		t.Errorf("MarketDataRequests() = %d, want 4", got)
	}
}

func TestPaperContractKey(t *testing.T) {
	tests := []struct {
		contract *interfaces.Contract
		want     string
	}{
		{&interfaces.Contract{Symbol: "spy", SecType: interfaces.SecTypeStock}, "STK:SPY"},
		{&interfaces.Contract{Symbol: "SPY", SecType: interfaces.SecTypeOption, Expiry: "20991217", Right: "put", Strike: 450.5}, "OPT:SPY:20991217:P:450.5"},
		{&interfaces.Contract{Symbol: "SPY", SecType: interfaces.SecTypeOption, Expiry: "20991217", Strike: 450}, "OPT:SPY:20991217::450"},
	}

	for _, tt := range tests {
		if got := contractKey(tt.contract); got != tt.want {
			t.Errorf("contractKey(%+v) = %q, want %q", tt.contract, got, tt.want)
		}
	}
}

func TestSeedDemoPortfolio(t *testing.T) {
	paper := NewPaperSession()
	SeedDemo(paper)
	ctx := context.Background()

	summary, _ := paper.AccountSummary(ctx)
	if len(summary) != 4 {
		t.Errorf("len(AccountSummary) = %d, want 4", len(summary))
	}

	items, err := paper.Portfolio(ctx)
	if err != nil {
		t.Fatalf("Portfolio() error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(Portfolio) = %d, want 3", len(items))
	}
	if items[0].MarketValue != 200*190 {
		t.Errorf("stock MarketValue = %v, want %v", items[0].MarketValue, 200*190)
	}
	if math.Abs(items[1].MarketValue-7600) > 1e-9 {
		t.Errorf("call MarketValue = %v, want 7600", items[1].MarketValue)
	}

	positions, _ := paper.Positions(ctx)
	positions[0].Contract.Symbol = "MUTATED"
	again, _ := paper.Positions(ctx)
	if again[0].Contract.Symbol != "AAPL" {
		t.Error("Positions returned shared contracts")
	}

	params, _ := paper.OptionParams(ctx, &interfaces.Contract{Symbol: "aapl"})
	if len(params) != 1 || len(params[0].Strikes) != 5 {
		t.Errorf("OptionParams() = %+v, want one set with 5 strikes", params)
	}
}
