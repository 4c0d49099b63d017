package brokers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AlpacaOptionsData fetches option contracts and snapshots over Alpaca's REST API
type AlpacaOptionsData struct {
	apiKey     string
	secretKey  string
	tradingURL string
	dataURL    string
	logger     *logrus.Logger
	client     *http.Client
}

// NewAlpacaOptionsData creates an options client. Empty URLs default to the paper
// trading API and the public market data API.
func NewAlpacaOptionsData(apiKey, secretKey, tradingURL, dataURL string, logger *logrus.Logger) *AlpacaOptionsData {
	if tradingURL == "" {
		tradingURL = "https://paper-api.alpaca.markets"
	}
	if dataURL == "" {
		dataURL = "https://data.alpaca.markets"
	}
	return &AlpacaOptionsData{
		apiKey:     apiKey,
		secretKey:  secretKey,
		tradingURL: strings.TrimRight(tradingURL, "/"),
		dataURL:    strings.TrimRight(dataURL, "/"),
		logger:     logging.OrDefault(logger),
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// AlpacaOptionsSnapshot represents Alpaca's options snapshot response
type AlpacaOptionsSnapshot struct {
	Snapshots map[string]AlpacaOptionContract `json:"snapshots"`
}

// AlpacaOptionContract represents one option snapshot
type AlpacaOptionContract struct {
	LatestQuote       AlpacaQuote   `json:"latestQuote"`
	LatestTrade       AlpacaTrade   `json:"latestTrade"`
	Greeks            *AlpacaGreeks `json:"greeks"`
	ImpliedVolatility float64       `json:"impliedVolatility"`
}

// AlpacaQuote represents quote data
type AlpacaQuote struct {
	Timestamp time.Time `json:"t"`
	BidPrice  float64   `json:"bp"`
	AskPrice  float64   `json:"ap"`
}

// AlpacaTrade represents trade data
type AlpacaTrade struct {
	Timestamp time.Time `json:"t"`
	Price     float64   `json:"p"`
}

// AlpacaGreeks represents Greeks data
type AlpacaGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
}

// AlpacaContractsResponse is one page of the option contracts listing
type AlpacaContractsResponse struct {
	OptionContracts []AlpacaContractInfo `json:"option_contracts"`
	NextPageToken   string               `json:"next_page_token"`
}

// AlpacaContractInfo represents contract metadata
type AlpacaContractInfo struct {
	Symbol           string          `json:"symbol"`
	UnderlyingSymbol string          `json:"underlying_symbol"`
	ExpirationDate   string          `json:"expiration_date"`
	StrikePrice      decimal.Decimal `json:"strike_price"`
	Type             string          `json:"type"` // "call" or "put"
	Size             string          `json:"size"`
}

func (s *AlpacaOptionsData) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	req.Header.Set("APCA-API-KEY-ID", s.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", s.secretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Snapshot returns the latest quote for an OCC option symbol. Unknown symbols yield an empty quote.
func (s *AlpacaOptionsData) Snapshot(ctx context.Context, occSymbol string) (*interfaces.Quote, error) {
	endpoint := fmt.Sprintf("%s/v1beta1/options/snapshots?symbols=%s", s.dataURL, url.QueryEscape(occSymbol))

	var snapshot AlpacaOptionsSnapshot
	if err := s.get(ctx, endpoint, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	contract, ok := snapshot.Snapshots[occSymbol]
	if !ok {
		return NaNQuote(), nil
	}

	quote := &interfaces.Quote{
		MarketPrice: math.NaN(),
		Last:        positiveOrNaN(contract.LatestTrade.Price),
		Bid:         positiveOrNaN(contract.LatestQuote.BidPrice),
		Ask:         positiveOrNaN(contract.LatestQuote.AskPrice),
		Timestamp:   contract.LatestQuote.Timestamp,
	}
	if contract.Greeks != nil && contract.Greeks.Delta != 0 {
		quote.Greeks = &interfaces.Greeks{Delta: contract.Greeks.Delta, Gamma: contract.Greeks.Gamma}
	}
	return quote, nil
}

// Contracts lists every active option contract on underlying, following pagination
func (s *AlpacaOptionsData) Contracts(ctx context.Context, underlying string) ([]AlpacaContractInfo, error) {
	var all []AlpacaContractInfo
	pageToken := ""

	for {
		query := url.Values{}
		query.Set("underlying_symbols", underlying)
		query.Set("status", "active")
		query.Set("limit", "10000")
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}
		endpoint := fmt.Sprintf("%s/v2/options/contracts?%s", s.tradingURL, query.Encode())

		var page AlpacaContractsResponse
		if err := s.get(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch option contracts: %w", err)
		}
		all = append(all, page.OptionContracts...)

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	s.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"count":      len(all),
	}).Debug("Fetched option contracts")
	return all, nil
}

// OptionParams folds the contract listing into one SMART-scoped parameter set
func (s *AlpacaOptionsData) OptionParams(ctx context.Context, underlying string) ([]*interfaces.OptionParams, error) {
	contracts, err := s.Contracts(ctx, underlying)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, nil
	}

	expirations := make(map[string]struct{})
	strikes := make(map[float64]struct{})
	for _, c := range contracts {
		if t, err := time.Parse("2006-01-02", c.ExpirationDate); err == nil {
			expirations[t.Format("20060102")] = struct{}{}
		}
		strike, _ := c.StrikePrice.Float64()
		strikes[strike] = struct{}{}
	}

	params := &interfaces.OptionParams{
		Exchange:   interfaces.SmartExchange,
		Multiplier: "100",
	}
	for e := range expirations {
		params.Expirations = append(params.Expirations, e)
	}
	for k := range strikes {
		params.Strikes = append(params.Strikes, k)
	}
	sort.Strings(params.Expirations)
	sort.Float64s(params.Strikes)
	return []*interfaces.OptionParams{params}, nil
}

// OCCSymbol builds e.g. "AAPL240119C00150000" from its parts. expiry is YYYYMMDD.
func OCCSymbol(root, expiry, right string, strike float64) (string, error) {
	if len(expiry) != 8 {
		return "", fmt.Errorf("invalid expiry %q", expiry)
	}
	side := strings.ToUpper(right)
	if side == "" {
		return "", fmt.Errorf("missing option right")
	}
	side = side[:1]
	if side != interfaces.RightCall && side != interfaces.RightPut {
		return "", fmt.Errorf("invalid option right %q", right)
	}
	milli := int64(math.Round(strike * 1000))
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(root), expiry[2:], side, milli), nil
}

// ParseOCCSymbol splits an OCC option symbol into an option contract
func ParseOCCSymbol(symbol string) (*interfaces.Contract, error) {
	symbol = strings.TrimSpace(symbol)
	if len(symbol) < 16 {
		return nil, fmt.Errorf("invalid OCC symbol %q", symbol)
	}
	tail := symbol[len(symbol)-15:]
	root := strings.TrimSpace(symbol[:len(symbol)-15])

	if _, err := time.Parse("060102", tail[:6]); err != nil {
		return nil, fmt.Errorf("invalid OCC expiry in %q: %w", symbol, err)
	}
	right := tail[6:7]
	if right != interfaces.RightCall && right != interfaces.RightPut {
		return nil, fmt.Errorf("invalid OCC right in %q", symbol)
	}
	milli, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OCC strike in %q: %w", symbol, err)
	}

	return &interfaces.Contract{
		Symbol:      root,
		SecType:     interfaces.SecTypeOption,
		Exchange:    interfaces.SmartExchange,
		Currency:    "USD",
		Expiry:      "20" + tail[:6],
		Strike:      float64(milli) / 1000,
		Right:       right,
		Multiplier:  "100",
		LocalSymbol: symbol,
	}, nil
}

func positiveOrNaN(v float64) float64 {
	if v > 0 {
		return v
	}
	return math.NaN()
}
