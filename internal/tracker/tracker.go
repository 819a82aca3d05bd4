// Package tracker maintains the engine's authoritative view of open
// positions, reconciled against the broker every cycle. It generalizes the
// teacher's analyzePositionDifferences set-reconciliation logic: MT5 ticket
// ids are already unique broker-assigned keys, so the map-diff collapses to
// plain set arithmetic over int64s rather than the teacher's OCC-symbol,
// multiplicity-counted reconciliation (it had to reconstruct option symbols
// from strikes/expirations because a multi-leg options position has no
// single natural key; an MT5 ticket already is one).
package tracker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cthuluengine/internal/broker"
	"cthuluengine/internal/models"
)

// ClosedPosition is emitted for a position the broker no longer reports.
type ClosedPosition struct {
	Position    models.Position
	RealizedPnL float64
	ClosedAtUTC time.Time
}

// Reconciliation is the classified result of one Sync call.
type Reconciliation struct {
	Updated []models.Position
	Unknown []broker.PositionInfo // broker positions with no local record
	Closed  []ClosedPosition      // local positions no longer at the broker
}

// PositionTracker holds ticket_id -> Position under a single mutex, per
// spec.md §4.4's "no duplicate ticket ids" invariant.
type PositionTracker struct {
	mu       sync.RWMutex
	magic    int64
	byTicket map[int64]*models.Position
	log      *logrus.Entry
}

// New builds a tracker scoped to a single magic number.
func New(magic int64, log *logrus.Logger) *PositionTracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PositionTracker{
		magic:    magic,
		byTicket: make(map[int64]*models.Position),
		log:      log.WithField("component", "tracker"),
	}
}

// Snapshot returns a copy of every tracked position.
func (t *PositionTracker) Snapshot() []models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Position, 0, len(t.byTicket))
	for _, p := range t.byTicket {
		out = append(out, *p)
	}
	return out
}

// Get returns the tracked position for ticket, if any.
func (t *PositionTracker) Get(ticket int64) (models.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byTicket[ticket]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Adopt inserts a position the tracker did not previously manage, used by
// TradeAdoption once it has synthesized stops for an externally opened
// trade.
func (t *PositionTracker) Adopt(p models.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := p
	t.byTicket[p.TicketID] = &cp
}

// Remove evicts ticket from the tracker immediately, used when the engine
// itself closes a position so the next Sync does not also report it as
// externally closed.
func (t *PositionTracker) Remove(ticket int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byTicket, ticket)
}

// Sync reconciles the tracker's state against a fresh broker snapshot,
// updating excursion markers from lastPrices (keyed by symbol, the last
// traded price the loop already fetched this cycle), surfacing unmanaged
// tickets for TradeAdoption, and evicting positions the broker no longer
// reports.
func (t *PositionTracker) Sync(brokerPositions []broker.PositionInfo, lastPrices map[string]float64, now time.Time) Reconciliation {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[int64]struct{}, len(brokerPositions))
	var result Reconciliation

	for _, bp := range brokerPositions {
		if bp.MagicNumber != 0 && bp.MagicNumber != t.magic {
			continue
		}
		seen[bp.TicketID] = struct{}{}

		local, known := t.byTicket[bp.TicketID]
		if !known {
			result.Unknown = append(result.Unknown, bp)
			continue
		}
		local.UnrealizedPnL = bp.CurrentPnL
		local.SLPrice = bp.SL
		local.TPPrice = bp.TP
		if price, ok := lastPrices[bp.Symbol]; ok && price > 0 {
			local.UpdateExcursion(price)
		}
		result.Updated = append(result.Updated, *local)
	}

	for ticket, local := range t.byTicket {
		if _, ok := seen[ticket]; ok {
			continue
		}
		result.Closed = append(result.Closed, ClosedPosition{
			Position:    *local,
			RealizedPnL: local.UnrealizedPnL,
			ClosedAtUTC: now.UTC(),
		})
		delete(t.byTicket, ticket)
		t.log.WithField("ticket", ticket).Info("position closed at broker, evicted from tracker")
	}

	return result
}
