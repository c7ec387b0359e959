package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/sirupsen/logrus"
)

type tradierPositionsResponse struct {
	Positions struct {
		Position []struct {
			Symbol       string  `json:"symbol"`
			Quantity     float64 `json:"quantity"`
			CostBasis    float64 `json:"cost_basis"`
			DateAcquired string  `json:"date_acquired"`
		} `json:"position"`
	} `json:"positions"`
}

type tradierHistoryEventsResponse struct {
	History struct {
		Event []struct {
			Date  string  `json:"date"`
			Type  string  `json:"type"`
			Trade *struct {
				Symbol    string  `json:"symbol"`
				Price     float64 `json:"price"`
				Quantity  float64 `json:"quantity"`
				TradeType string  `json:"trade_type"`
			} `json:"trade"`
		} `json:"event"`
	} `json:"history"`
}

// GetPositions returns the account's open short option positions. Equity rows
// and long option positions are skipped: only short options are tracked.
func (t *TradierProvider) GetPositions(ctx context.Context, accountID string) ([]models.Position, error) {
	var resp tradierPositionsResponse
	if err := t.get(ctx, "/accounts/"+accountID+"/positions", url.Values{}, &resp); err != nil {
		return nil, fmt.Errorf("positions for %s: %w", accountID, err)
	}

	var out []models.Position
	for _, p := range resp.Positions.Position {
		if p.Quantity >= 0 {
			continue
		}
		key, err := models.DecodeKey(accountID + ":" + p.Symbol)
		if err != nil {
			// An equity row, not an option symbol.
			continue
		}
		contracts := int(math.Abs(p.Quantity))
		pos := models.Position{
			Symbol:     key.Symbol,
			Strike:     key.Strike,
			Expiration: key.Expiration,
			Type:       key.Type,
			Contracts:  contracts,
			Account:    accountID,
		}
		if contracts > 0 {
			// Short cost basis is negative: the credit collected at open.
			pos.OriginalPremium = -p.CostBasis / (100 * float64(contracts))
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetOptionTrades returns the account's realized option trades executed at or
// after since.
func (t *TradierProvider) GetOptionTrades(ctx context.Context, accountID string, since time.Time) ([]models.Trade, error) {
	var resp tradierHistoryEventsResponse
	params := url.Values{
		"type":  {"trade"},
		"start": {since.UTC().Format("2006-01-02")},
	}
	if err := t.get(ctx, "/accounts/"+accountID+"/history", params, &resp); err != nil {
		return nil, fmt.Errorf("trade history for %s: %w", accountID, err)
	}

	var out []models.Trade
	for i, ev := range resp.History.Event {
		if ev.Type != "trade" || ev.Trade == nil || ev.Trade.TradeType != "option" {
			continue
		}
		key, err := models.DecodeKey(accountID + ":" + ev.Trade.Symbol)
		if err != nil {
			continue
		}
		executed, err := time.Parse(time.RFC3339, ev.Date)
		if err != nil {
			continue
		}
		if executed.Before(since) {
			continue
		}

		side := models.SideBuyToClose
		if ev.Trade.Quantity < 0 {
			side = models.SideSellToOpen
		}
		out = append(out, models.Trade{
			// The event index keeps IDs unique when two fills of the
			// same contract land in the same second.
			ID:         fmt.Sprintf("%s-%s-%s-%d", accountID, ev.Trade.Symbol, executed.UTC().Format("20060102T150405"), i),
			Account:    accountID,
			Symbol:     key.Symbol,
			Strike:     key.Strike,
			Expiration: key.Expiration,
			Type:       key.Type,
			Side:       side,
			Quantity:   int(math.Abs(ev.Trade.Quantity)),
			Premium:    ev.Trade.Price,
			ExecutedAt: executed,
		})
	}
	return out, nil
}

// AccountFeed aggregates positions and trades across accounts from Tradier.
// It is the live-mode position and trade source.
type AccountFeed struct {
	provider *TradierProvider
	accounts []string
	logger   *logrus.Logger
}

// NewAccountFeed creates a feed over the given account IDs.
func NewAccountFeed(provider *TradierProvider, accounts []string, logger *logrus.Logger) *AccountFeed {
	return &AccountFeed{provider: provider, accounts: accounts, logger: logger}
}

// Positions returns all open short option positions across accounts. One
// failing account fails the whole read so a cycle never sees a partial book.
func (f *AccountFeed) Positions(ctx context.Context) ([]models.Position, error) {
	var out []models.Position
	for _, acct := range f.accounts {
		positions, err := f.provider.GetPositions(ctx, acct)
		if err != nil {
			return nil, err
		}
		out = append(out, positions...)
	}
	return out, nil
}

// TradesSince returns realized option trades across accounts since the given
// time.
func (f *AccountFeed) TradesSince(ctx context.Context, since time.Time) ([]models.Trade, error) {
	var out []models.Trade
	for _, acct := range f.accounts {
		trades, err := f.provider.GetOptionTrades(ctx, acct, since)
		if err != nil {
			return nil, err
		}
		out = append(out, trades...)
	}
	return out, nil
}
