package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerBroker wraps a Broker with a gobreaker.CircuitBreaker,
// grounded verbatim on the teacher's broker.NewCircuitBreakerBroker
// (TradierClient wrapped for resilience). When the breaker is open, calls
// fail fast with a TransientError so the loop can enter its degraded state
// without waiting out the bridge's own timeout.
type CircuitBreakerBroker struct {
	inner Broker
	cb    *gobreaker.CircuitBreaker
}

// NewCircuitBreakerBroker wraps inner with a circuit breaker tuned to trip
// after five consecutive failures and probe again after 30s, matching the
// "health()=false for > K consecutive cycles" degraded-state trigger of
// spec.md §4.1.
func NewCircuitBreakerBroker(inner Broker) *CircuitBreakerBroker {
	settings := gobreaker.Settings{
		Name:        "mt5-bridge",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &CircuitBreakerBroker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func execute[T any](cb *CircuitBreakerBroker, op string, fn func() (T, error)) (T, error) {
	var zero T
	result, err := cb.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, &TransientError{Op: op, Err: fmt.Errorf("circuit breaker open: %w", err)}
		}
		return zero, err
	}
	return result.(T), nil
}

// Health implements Broker.
func (c *CircuitBreakerBroker) Health(ctx context.Context) (*HealthResult, error) {
	return execute(c, "health", func() (*HealthResult, error) { return c.inner.Health(ctx) })
}

// AccountInfo implements Broker.
func (c *CircuitBreakerBroker) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	return execute(c, "account_info", func() (*AccountInfo, error) { return c.inner.AccountInfo(ctx) })
}

// SymbolInfo implements Broker.
func (c *CircuitBreakerBroker) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	return execute(c, "symbol_info", func() (*SymbolInfo, error) { return c.inner.SymbolInfo(ctx, symbol) })
}

// Rates implements Broker.
func (c *CircuitBreakerBroker) Rates(ctx context.Context, symbol, timeframe string, count int) ([]RateBar, error) {
	return execute(c, "rates", func() ([]RateBar, error) { return c.inner.Rates(ctx, symbol, timeframe, count) })
}

// OpenPositions implements Broker.
func (c *CircuitBreakerBroker) OpenPositions(ctx context.Context, magic int64) ([]PositionInfo, error) {
	return execute(c, "open_positions", func() ([]PositionInfo, error) { return c.inner.OpenPositions(ctx, magic) })
}

// PlaceOrder implements Broker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return execute(c, "place_order", func() (*OrderResult, error) { return c.inner.PlaceOrder(ctx, req) })
}

// ModifyPosition implements Broker.
func (c *CircuitBreakerBroker) ModifyPosition(ctx context.Context, req ModifyRequest) error {
	_, err := execute(c, "modify_position", func() (struct{}, error) { return struct{}{}, c.inner.ModifyPosition(ctx, req) })
	return err
}

// ClosePosition implements Broker.
func (c *CircuitBreakerBroker) ClosePosition(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	return execute(c, "close_position", func() (*CloseResult, error) { return c.inner.ClosePosition(ctx, req) })
}

// Close implements Broker.
func (c *CircuitBreakerBroker) Close() error { return c.inner.Close() }

// State exposes the breaker's current state for health reporting.
func (c *CircuitBreakerBroker) State() gobreaker.State { return c.cb.State() }

var _ Broker = (*CircuitBreakerBroker)(nil)
