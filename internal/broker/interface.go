package broker

import (
	"context"
	"time"
)

// Broker is the engine's view of the MT5 bridge, per spec.md §4.1. All
// operations may fail with a *TransientError or *PermanentError.
type Broker interface {
	Health(ctx context.Context) (*HealthResult, error)
	AccountInfo(ctx context.Context) (*AccountInfo, error)
	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	Rates(ctx context.Context, symbol, timeframe string, count int) ([]RateBar, error)
	OpenPositions(ctx context.Context, magic int64) ([]PositionInfo, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	ModifyPosition(ctx context.Context, req ModifyRequest) error
	ClosePosition(ctx context.Context, req CloseRequest) (*CloseResult, error)
	Close() error
}

// RetryConfig bounds the per-cycle synchronous retry behavior described in
// spec.md §4.1 and §5.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

// DefaultRetryConfig mirrors the teacher's retry.DefaultConfig defaults,
// scaled down to fit a per-call budget inside a single trading cycle.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	CallTimeout:    5 * time.Second,
}
