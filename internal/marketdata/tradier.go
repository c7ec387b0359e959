package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"golang.org/x/time/rate"
)

const (
	tradierProdURL    = "https://api.tradier.com/v1"
	tradierSandboxURL = "https://sandbox.tradier.com/v1"

	// Tradier sandbox allows 60 market-data requests per minute, production
	// considerably more; both are configurable per provider entry.
	defaultRatePerMinute = 60
)

// TradierProvider implements Provider against the Tradier market data API.
type TradierProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewTradierProvider creates a Tradier-backed provider. ratePerMinute <= 0
// falls back to the sandbox default.
func NewTradierProvider(apiKey string, sandbox bool, ratePerMinute int) *TradierProvider {
	baseURL := tradierProdURL
	if sandbox {
		baseURL = tradierSandboxURL
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	return &TradierProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute/6+1),
	}
}

// Name implements Provider.
func (t *TradierProvider) Name() string { return "tradier" }

func (t *TradierProvider) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

type tradierQuoteResponse struct {
	Quotes struct {
		Quote []struct {
			Symbol string  `json:"symbol"`
			Last   float64 `json:"last"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
			Volume int64   `json:"volume"`
		} `json:"quote"`
	} `json:"quotes"`
}

// GetQuote implements Provider.
func (t *TradierProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var resp tradierQuoteResponse
	params := url.Values{"symbols": {symbol}}
	if err := t.get(ctx, "/markets/quotes", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Quotes.Quote) == 0 {
		return nil, fmt.Errorf("no quote returned for %s", symbol)
	}
	q := resp.Quotes.Quote[0]
	return &Quote{Symbol: q.Symbol, Last: q.Last, Bid: q.Bid, Ask: q.Ask, Volume: q.Volume}, nil
}

type tradierExpirationsResponse struct {
	Expirations struct {
		Date []string `json:"date"`
	} `json:"expirations"`
}

// GetExpirations implements Provider.
func (t *TradierProvider) GetExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	var resp tradierExpirationsResponse
	params := url.Values{"symbol": {symbol}, "includeAllRoots": {"true"}}
	if err := t.get(ctx, "/markets/options/expirations", params, &resp); err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(resp.Expirations.Date))
	for _, d := range resp.Expirations.Date {
		parsed, err := time.ParseInLocation("2006-01-02", d, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing expiration %q: %w", d, err)
		}
		dates = append(dates, parsed)
	}
	return dates, nil
}

type tradierChainResponse struct {
	Options struct {
		Option []struct {
			Symbol       string  `json:"symbol"`
			Strike       float64 `json:"strike"`
			OptionType   string  `json:"option_type"`
			Bid          float64 `json:"bid"`
			Ask          float64 `json:"ask"`
			Last         float64 `json:"last"`
			Volume       int64   `json:"volume"`
			OpenInterest int64   `json:"open_interest"`
			Greeks       *struct {
				Delta float64 `json:"delta"`
				MidIV float64 `json:"mid_iv"`
			} `json:"greeks"`
		} `json:"option"`
	} `json:"options"`
}

// GetChain implements Provider. Greeks are always requested because delta
// feeds the probability-OTM model.
func (t *TradierProvider) GetChain(ctx context.Context, symbol string, expiration time.Time) (*Chain, error) {
	var resp tradierChainResponse
	params := url.Values{
		"symbol":     {symbol},
		"expiration": {expiration.Format("2006-01-02")},
		"greeks":     {"true"},
	}
	if err := t.get(ctx, "/markets/options/chains", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Options.Option) == 0 {
		return nil, fmt.Errorf("empty chain for %s %s", symbol, expiration.Format("2006-01-02"))
	}

	chain := &Chain{}
	for _, o := range resp.Options.Option {
		row := OptionQuote{
			Symbol:       o.Symbol,
			Strike:       o.Strike,
			Expiration:   expiration,
			Bid:          o.Bid,
			Ask:          o.Ask,
			Last:         o.Last,
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
		}
		if o.Greeks != nil {
			row.Delta = o.Greeks.Delta
			row.IV = o.Greeks.MidIV
		}
		switch o.OptionType {
		case "call":
			row.Type = models.OptionTypeCall
			chain.Calls = append(chain.Calls, row)
		case "put":
			row.Type = models.OptionTypePut
			chain.Puts = append(chain.Puts, row)
		}
	}
	return chain, nil
}

type tradierHistoryResponse struct {
	History struct {
		Day []struct {
			Date  string  `json:"date"`
			Close float64 `json:"close"`
		} `json:"day"`
	} `json:"history"`
}

// DailyCloses returns the most recent n daily closing prices for symbol,
// oldest first. The lookback is padded for weekends and holidays.
func (t *TradierProvider) DailyCloses(ctx context.Context, symbol string, n int) ([]float64, error) {
	var resp tradierHistoryResponse
	start := time.Now().UTC().AddDate(0, 0, -(n*2 + 10))
	params := url.Values{
		"symbol":   {symbol},
		"interval": {"daily"},
		"start":    {start.Format("2006-01-02")},
	}
	if err := t.get(ctx, "/markets/history", params, &resp); err != nil {
		return nil, fmt.Errorf("history for %s: %w", symbol, err)
	}

	days := resp.History.Day
	if len(days) == 0 {
		return nil, fmt.Errorf("no price history for %s", symbol)
	}
	if len(days) > n {
		days = days[len(days)-n:]
	}
	closes := make([]float64, len(days))
	for i, d := range days {
		closes[i] = d.Close
	}
	return closes, nil
}
