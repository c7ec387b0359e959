package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures circuit breaker behavior for a wrapped provider.
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultBreakerSettings are sensible defaults for HTTP quote providers.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// BreakerProvider wraps a Provider with circuit breaker functionality so a
// flapping upstream fails fast instead of stalling evaluation cycles.
type BreakerProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps provider with the given settings.
func NewBreakerProvider(provider Provider, settings BreakerSettings, logger *logrus.Logger) *BreakerProvider {
	gbSettings := gobreaker.Settings{
		Name:        provider.Name() + "-breaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}
	return &BreakerProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// Name implements Provider.
func (b *BreakerProvider) Name() string { return b.provider.Name() }

// GetQuote wraps the underlying provider call with the circuit breaker.
func (b *BreakerProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execBreaker(b.breaker, func() (*Quote, error) { return b.provider.GetQuote(ctx, symbol) })
}

// GetExpirations wraps the underlying provider call with the circuit breaker.
func (b *BreakerProvider) GetExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return execBreaker(b.breaker, func() ([]time.Time, error) { return b.provider.GetExpirations(ctx, symbol) })
}

// GetChain wraps the underlying provider call with the circuit breaker.
func (b *BreakerProvider) GetChain(ctx context.Context, symbol string, expiration time.Time) (*Chain, error) {
	return execBreaker(b.breaker, func() (*Chain, error) { return b.provider.GetChain(ctx, symbol, expiration) })
}
