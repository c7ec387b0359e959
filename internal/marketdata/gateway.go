package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCooldown is how long a failing provider sits out before it is
// eligible again.
const DefaultCooldown = 5 * time.Minute

// Gateway fans calls across an ordered list of providers. The first available
// provider is tried; on error or rate limit it is put on a timed cooldown and
// the next provider is tried transparently. Adding a provider is a one-line
// registration change in the constructor call.
type Gateway struct {
	providers []Provider
	cooldown  time.Duration
	logger    *logrus.Logger

	mu               sync.Mutex
	unavailableUntil map[string]time.Time
	now              func() time.Time
}

// NewGateway creates a gateway over providers in priority order.
func NewGateway(logger *logrus.Logger, cooldown time.Duration, providers ...Provider) *Gateway {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gateway{
		providers:        providers,
		cooldown:         cooldown,
		logger:           logger,
		unavailableUntil: make(map[string]time.Time),
		now:              time.Now,
	}
}

// IsAvailable reports whether the named provider is currently eligible.
func (g *Gateway) IsAvailable(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.unavailableUntil[name]
	return !ok || g.now().After(until)
}

func (g *Gateway) markUnavailable(name string, err error) {
	g.mu.Lock()
	g.unavailableUntil[name] = g.now().Add(g.cooldown)
	g.mu.Unlock()
	g.logger.WithError(err).Warnf("provider %s unavailable for %s", name, g.cooldown)
}

// firstAvailable runs fn against providers in priority order, skipping cooled
// ones, and returns the first success.
func firstAvailable[T any](g *Gateway, fn func(Provider) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for _, p := range g.providers {
		if !g.IsAvailable(p.Name()) {
			continue
		}
		res, err := fn(p)
		if err == nil {
			return res, nil
		}
		lastErr = err
		g.markUnavailable(p.Name(), err)
	}
	if lastErr != nil {
		return zero, fmt.Errorf("%w: %w", ErrNoProvider, lastErr)
	}
	return zero, ErrNoProvider
}

// GetQuote returns the underlying quote from the first available provider.
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return firstAvailable(g, func(p Provider) (*Quote, error) {
		return p.GetQuote(ctx, symbol)
	})
}

// GetExpirations returns the option expirations from the first available provider.
func (g *Gateway) GetExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return firstAvailable(g, func(p Provider) ([]time.Time, error) {
		return p.GetExpirations(ctx, symbol)
	})
}

// GetChain returns the option chain from the first available provider.
func (g *Gateway) GetChain(ctx context.Context, symbol string, expiration time.Time) (*Chain, error) {
	return firstAvailable(g, func(p Provider) (*Chain, error) {
		return p.GetChain(ctx, symbol, expiration)
	})
}
