// Package lifecycle manages the mutating operations on an already-open
// position: adjusting stops, partial closes, and full closes. It replaces
// the teacher's internal/orders package, which polled Tradier for fill
// status on newly submitted multi-leg orders; MT5 bridge calls are
// synchronous (the /order, /modify, /close endpoints return the outcome
// directly), so there is no fill-polling state machine to keep, only the
// broker-call + validation wrapper this package provides.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"cthuluengine/internal/broker"
	"cthuluengine/internal/models"
)

// ErrStopsTooClose is returned when a requested SL/TP violates the broker's
// stops_level (minimum distance from current price, in points), per
// spec.md §4.5. The caller (ExitCoordinator) decides whether to widen the
// request or skip it.
var ErrStopsTooClose = errors.New("lifecycle: requested stop distance violates broker stops_level")

// Config bounds PositionLifecycle's own behavior. Broker-call timeouts live
// on the broker.Client itself.
type Config struct {
	Log *logrus.Logger
}

// PositionLifecycle exposes the mutating operations spec.md §4.5 names:
// set_stops, partial_close, full_close.
type PositionLifecycle struct {
	broker broker.Broker
	log    *logrus.Entry
}

// New builds a PositionLifecycle over br. Panics if br is nil, matching the
// teacher's fail-fast constructor discipline for required dependencies.
func New(br broker.Broker, cfg Config) *PositionLifecycle {
	if br == nil {
		panic("lifecycle.New: broker must not be nil")
	}
	log := cfg.Log
	if log == nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
	}
	return &PositionLifecycle{broker: br, log: log.WithField("component", "lifecycle")}
}

// SetStops validates sl/tp against the symbol's stops_level before issuing
// ModifyPosition. Either sl or tp may be 0 to leave that side unchanged.
func (l *PositionLifecycle) SetStops(ctx context.Context, ticket int64, currentPrice float64, sym broker.SymbolInfo, sl, tp float64) error {
	if err := validateStopsLevel(currentPrice, sym, sl, tp); err != nil {
		return err
	}
	if err := l.broker.ModifyPosition(ctx, broker.ModifyRequest{TicketID: ticket, SL: sl, TP: tp}); err != nil {
		return fmt.Errorf("lifecycle: set stops for ticket %d: %w", ticket, err)
	}
	l.log.WithField("ticket", ticket).WithField("sl", sl).WithField("tp", tp).Info("stops updated")
	return nil
}

// PartialClose closes fraction of a position's lot size, fraction in (0,1).
func (l *PositionLifecycle) PartialClose(ctx context.Context, pos models.Position, fraction float64) (*broker.CloseResult, error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, fmt.Errorf("lifecycle: partial close fraction %.4f must be in (0,1)", fraction)
	}
	lot := pos.LotSize * fraction
	res, err := l.broker.ClosePosition(ctx, broker.CloseRequest{TicketID: pos.TicketID, Lot: &lot})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: partial close ticket %d: %w", pos.TicketID, err)
	}
	l.log.WithField("ticket", pos.TicketID).WithField("fraction", fraction).Info("partial close executed")
	return res, nil
}

// FullClose closes the entire position.
func (l *PositionLifecycle) FullClose(ctx context.Context, ticket int64) (*broker.CloseResult, error) {
	res, err := l.broker.ClosePosition(ctx, broker.CloseRequest{TicketID: ticket})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: full close ticket %d: %w", ticket, err)
	}
	l.log.WithField("ticket", ticket).Info("full close executed")
	return res, nil
}

// validateStopsLevel enforces the broker-reported minimum SL/TP distance
// from the current price, expressed in points (sym.Point is the price unit
// of one point).
func validateStopsLevel(currentPrice float64, sym broker.SymbolInfo, sl, tp float64) error {
	if sym.Point <= 0 || sym.StopsLevel <= 0 {
		return nil
	}
	minDistance := float64(sym.StopsLevel) * sym.Point
	if sl != 0 && absf(currentPrice-sl) < minDistance {
		return fmt.Errorf("%w: sl distance %.5f < min %.5f", ErrStopsTooClose, absf(currentPrice-sl), minDistance)
	}
	if tp != 0 && absf(currentPrice-tp) < minDistance {
		return fmt.Errorf("%w: tp distance %.5f < min %.5f", ErrStopsTooClose, absf(currentPrice-tp), minDistance)
	}
	return nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
