// Package engine implements the TradingLoop, the top-level scheduler that
// drives one cycle per poll interval across every other package: reconcile
// positions, adopt unmanaged ones, compute indicators, evaluate strategies,
// run the risk gates, place orders, update lifecycles, evaluate exits, and
// push metrics. It generalizes the teacher's Bot.Run/runTradingCycle pair:
// the teacher ran exactly one strangle-management cycle on a fixed ticker;
// this loop runs the same "immediate first tick, then sleep, repeat until
// stopped" shape but composes the eight-package pipeline the MT5 engine
// needs instead of the teacher's inline strangle logic.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cthuluengine/internal/adoption"
	"cthuluengine/internal/broker"
	"cthuluengine/internal/config"
	"cthuluengine/internal/exitcoord"
	"cthuluengine/internal/indicators"
	"cthuluengine/internal/lifecycle"
	"cthuluengine/internal/metrics"
	"cthuluengine/internal/models"
	"cthuluengine/internal/risk"
	"cthuluengine/internal/storage"
	"cthuluengine/internal/strategy"
	"cthuluengine/internal/tracker"
)

// Selector is the shape both strategy.DynamicSelector and a single-strategy
// registry adapter implement, letting TradingLoop stay agnostic to
// cfg.Strategy.Type.
type Selector interface {
	Select(ids []string, series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg strategy.Config) []models.Signal
}

// singleSelector adapts a bare Registry to the Selector interface for
// strategy.type=="single": it runs the one configured strategy and returns
// whatever it produces, with no weighting or tie-breaking to do.
type singleSelector struct {
	registry strategy.Registry
}

func (s singleSelector) Select(ids []string, series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg strategy.Config) []models.Signal {
	return s.registry.Evaluate(ids, series, snap, mctx, cfg)
}

// NewSelector builds the Selector named by cfg.Strategy.Type.
func NewSelector(cfg config.StrategyConfig) Selector {
	if cfg.Type == "single" {
		return singleSelector{registry: strategy.DefaultRegistry()}
	}
	return strategy.NewDynamicSelector()
}

// Deps bundles every package TradingLoop drives. New panics if Broker,
// Config or any of the component pointers is nil, matching the teacher's
// fail-fast constructor discipline for wired dependencies; a nil Log falls
// back to logrus.StandardLogger.
type Deps struct {
	Broker          broker.Broker
	Tracker         *tracker.PositionTracker
	Adoption        *adoption.TradeAdoption
	Selector        Selector
	StrategyConfig  strategy.Config
	StrategyIDs     []string
	IndicatorConfig indicators.Config
	RiskEvaluator   *risk.Evaluator
	Lifecycle       *lifecycle.PositionLifecycle
	ExitCoordinator *exitcoord.Coordinator
	MetricsWorker   *metrics.Worker
	SnapshotStore   *storage.SnapshotStore
	TradeDB         *storage.TradeDB
	Config          *config.Config
	Log             *logrus.Logger
}

// degradedThreshold is the K of spec.md §4.1/§5: consecutive failed health
// checks before the loop enters the degraded state and stops placing new
// orders.
const degradedThreshold = 3

// priceFreshness bounds how old a cached last-traded price may be before
// exit evaluation refuses to use it, in every cycle, per spec.md §5's "exit
// logic continues with last-known prices only if within a freshness
// window".
const priceFreshness = 5 * time.Minute

// symbolCacheTTL bounds how long a cached broker.SymbolInfo lookup is
// reused before being refreshed, grounded on the teacher's
// getMarketCalendar/calendarCacheMonth staleness-checked cache in
// cmd/bot/main.go — symbol metadata (lot step, stops_level) changes far
// less often than once per cycle.
const symbolCacheTTL = 10 * time.Minute

// TradingLoop runs the cycle pipeline of spec.md §5 until Stop is called or
// ctx is cancelled.
type TradingLoop struct {
	deps Deps
	log  *logrus.Entry

	stop chan struct{}
	once sync.Once

	mu              sync.Mutex
	riskState       models.RiskState
	lastAccount     models.Account
	consecutiveFail int
	degraded        bool
	lastCycleEnd    time.Time
	lastCycleDur    time.Duration
	lastPrices      map[string]float64
	lastPriceAt     map[string]time.Time

	symMu      sync.Mutex
	symCache   *broker.SymbolInfo
	symCacheAt time.Time

	// kick, if set, is called at the end of every completed cycle so an
	// external watchdog can reset its own timer.
	kick func()
}

// New builds a TradingLoop over deps. Every field of deps must already be
// constructed; New does not validate them beyond nil-checking the pointers
// a nil value would make it crash on later, and defaults only a nil Log.
func New(deps Deps) *TradingLoop {
	mustNotBeNil(deps)
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TradingLoop{
		deps:        deps,
		log:         log.WithField("component", "engine"),
		stop:        make(chan struct{}),
		lastPrices:  make(map[string]float64),
		lastPriceAt: make(map[string]time.Time),
	}
}

func mustNotBeNil(deps Deps) {
	switch {
	case deps.Broker == nil:
		panic("engine.New: Broker must not be nil")
	case deps.Tracker == nil:
		panic("engine.New: Tracker must not be nil")
	case deps.Adoption == nil:
		panic("engine.New: Adoption must not be nil")
	case deps.Selector == nil:
		panic("engine.New: Selector must not be nil")
	case deps.RiskEvaluator == nil:
		panic("engine.New: RiskEvaluator must not be nil")
	case deps.Lifecycle == nil:
		panic("engine.New: Lifecycle must not be nil")
	case deps.ExitCoordinator == nil:
		panic("engine.New: ExitCoordinator must not be nil")
	case deps.MetricsWorker == nil:
		panic("engine.New: MetricsWorker must not be nil")
	case deps.SnapshotStore == nil:
		panic("engine.New: SnapshotStore must not be nil")
	case deps.TradeDB == nil:
		panic("engine.New: TradeDB must not be nil")
	case deps.Config == nil:
		panic("engine.New: Config must not be nil")
	}
}

// OnCycleComplete registers fn to be called after every completed cycle,
// successful or not. TradingLoop uses this to let an external watchdog
// reset its own deadline without the two packages importing each other.
func (l *TradingLoop) OnCycleComplete(fn func()) {
	l.kick = fn
}

// Stop requests the loop exit at the next cycle boundary. Safe to call more
// than once and from any goroutine.
func (l *TradingLoop) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Status is a point-in-time read of the loop's health, consumed by the
// /healthz endpoint.
type Status struct {
	Alive        bool
	Degraded     bool
	LastCycleEnd time.Time
	OpenCount    int
}

// Status returns the loop's current health snapshot.
func (l *TradingLoop) Status() Status {
	l.mu.Lock()
	alive, degraded, lastEnd := !l.lastCycleEnd.IsZero(), l.degraded, l.lastCycleEnd
	l.mu.Unlock()
	return Status{
		Alive:        alive,
		Degraded:     degraded,
		LastCycleEnd: lastEnd,
		OpenCount:    len(l.deps.Tracker.Snapshot()),
	}
}

// Run bootstraps from any persisted snapshot, runs one cycle immediately,
// then loops on a dynamically-reset timer until ctx is cancelled or Stop is
// called. Per spec.md §5, a cycle that overshoots 2x the poll interval
// shortens its next sleep to catch up; this requires resetting a
// time.Timer to a computed duration each iteration rather than the
// teacher's fixed time.NewTicker.
func (l *TradingLoop) Run(ctx context.Context) error {
	if err := l.bootstrap(); err != nil {
		l.log.WithError(err).Warn("snapshot bootstrap failed, starting from zero state")
	}

	interval := l.deps.Config.PollInterval()
	l.runCycle(ctx)

	timer := time.NewTimer(l.nextSleep(interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-timer.C:
			l.runCycle(ctx)
			timer.Reset(l.nextSleep(interval))
		}
	}
}

// nextSleep computes the next timer duration: exactly interval in the
// normal case, shortened (down to zero) by however much the prior cycle
// overshot 2x interval.
func (l *TradingLoop) nextSleep(interval time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	threshold := 2 * interval
	if l.lastCycleDur <= threshold {
		return interval
	}
	sleep := interval - (l.lastCycleDur - threshold)
	if sleep < 0 {
		return 0
	}
	return sleep
}

// bootstrap restores riskState and the tracker's position map from the last
// persisted snapshot, per spec.md §4.9's restart contract.
func (l *TradingLoop) bootstrap() error {
	snap, err := l.deps.SnapshotStore.Load()
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	l.mu.Lock()
	l.riskState = snap.RiskState
	l.lastAccount = snap.Account
	l.mu.Unlock()
	for ticket, pos := range snap.Positions {
		p := pos
		p.TicketID = ticket
		l.deps.Tracker.Adopt(p)
	}
	return nil
}
