package engine

import (
	"context"
	"errors"
	"time"

	"cthuluengine/internal/broker"
	"cthuluengine/internal/indicators"
	"cthuluengine/internal/lifecycle"
	"cthuluengine/internal/metrics"
	"cthuluengine/internal/models"
	"cthuluengine/internal/risk"
	"cthuluengine/internal/storage"
	"cthuluengine/internal/tracker"
)

// runCycle executes exactly one pass of spec.md §5's pipeline: reconcile,
// adopt, compute indicators, evaluate strategies, risk-check, place order,
// lifecycle updates, exit evaluation, metrics. It never returns an error:
// every step that can fail logs and either skips its own dependent work or
// degrades, per spec.md §7's "the loop never propagates an exception past
// the cycle boundary".
func (l *TradingLoop) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("cycle step panicked, abandoning this cycle")
		}
	}()
	start := time.Now()
	symbol := l.deps.Config.Symbol
	log := l.log.WithField("symbol", symbol)

	healthy := l.checkHealth(ctx)

	acct, brokerPositions, err := l.fetchAccountState(ctx)
	if err != nil {
		log.WithError(err).Warn("account/positions fetch failed, running degraded exit-only pass")
		l.runExitOnlyPass(ctx, start)
		return
	}
	l.mu.Lock()
	l.riskState.MaybeResetForNewDay(start)
	l.riskState.UpdatePeakEquity(acct.Equity)
	acct.Phase = models.DerivePhase(acct.Balance, l.riskState.CurrentDrawdownPct, l.deps.Config.Risk.RecoveryThresholdPct)
	l.lastAccount = acct
	riskStateCopy := l.riskState
	l.mu.Unlock()

	recon := l.deps.Tracker.Sync(brokerPositions, l.snapshotPrices(), start)
	l.adoptUnknown(ctx, recon.Unknown, start)

	var signalRows []storage.SignalRow
	var orderRows []storage.OrderRow
	var tradeRows []storage.TradeRow
	tradeRows = append(tradeRows, l.tradeRowsForClosed(recon.Closed)...)

	sym, symErr := l.symbolInfo(ctx, symbol)
	if symErr != nil {
		log.WithError(symErr).Warn("symbol info unavailable, skipping indicator-dependent steps")
		l.finishCycle(start, healthy, signalRows, orderRows, tradeRows, metrics.Snapshot{})
		return
	}

	bars, barsErr := l.fetchBars(ctx, symbol)
	if barsErr != nil || len(bars) == 0 {
		log.WithError(barsErr).Warn("rates fetch failed, skipping indicator-dependent steps")
		l.finishCycle(start, healthy, signalRows, orderRows, tradeRows, metrics.Snapshot{})
		return
	}
	series := models.Series{Symbol: symbol, Timeframe: l.deps.Config.Timeframe, Bars: bars}
	snap := indicators.Compute(bars, l.deps.IndicatorConfig)

	lastBar := bars[len(bars)-1]
	l.recordPrice(symbol, lastBar.Close, start)
	mctx := deriveMarketContext(snap, sym, bars, start)

	var signalsGenerated, signalsAccepted, signalsRejected int
	perStrategySignals := make(map[string]int)

	if healthy && !l.isDegraded() {
		signals := l.deps.Selector.Select(l.deps.StrategyIDs, series, snap, mctx, l.deps.StrategyConfig)
		for _, sig := range signals {
			if err := sig.Validate(); err != nil {
				log.WithError(err).Warn("strategy produced an invalid signal, discarding")
				continue
			}
			signalsGenerated++
			perStrategySignals[sig.StrategyID]++

			decision := l.evaluateRisk(sig, acct, riskStateCopy, recon.Updated, mctx, sym, snap.ATR, lastBar.Close)
			signalRows = append(signalRows, storage.SignalRow{
				TS: start, Symbol: sig.Symbol, Side: string(sig.Side),
				Confidence: sig.Confidence, Strategy: sig.StrategyID, Accepted: decision.Approved,
			})
			if !decision.Approved {
				signalsRejected++
				log.WithField("strategy", sig.StrategyID).WithField("reason", decision.Reason).Info("signal rejected by risk evaluator")
				continue
			}
			signalsAccepted++
			l.mu.Lock()
			l.riskState.DailyTradeCount++
			l.mu.Unlock()

			if row, placed := l.placeOrder(ctx, sig, decision, sym); placed {
				orderRows = append(orderRows, row)
			}
		}
	}

	exitStats := l.evaluateExits(ctx, recon.Updated, mctx, bars, snap, acct, &tradeRows)

	snapMetrics := metrics.Snapshot{
		Balance: acct.Balance, Equity: acct.Equity, Margin: acct.Margin, FreeMargin: acct.FreeMargin,
		DailyPnL: riskStateCopy.DailyRealizedPnL, DrawdownPct: riskStateCopy.CurrentDrawdownPct,
		OpenPositions:      len(l.deps.Tracker.Snapshot()),
		SignalsGenerated:   signalsGenerated,
		SignalsAccepted:    signalsAccepted,
		SignalsRejected:    signalsRejected,
		PerStrategySignals: perStrategySignals,
		PerStrategyExits:   exitStats,
		PerSymbolExposure:  exposureBySymbol(l.deps.Tracker.Snapshot()),
	}

	l.finishCycle(start, healthy, signalRows, orderRows, tradeRows, snapMetrics)
}

// checkHealth runs the broker health probe and updates the consecutive
// failure counter, returning whether the cycle should be treated as fully
// healthy for the purpose of placing new orders.
func (l *TradingLoop) checkHealth(ctx context.Context) bool {
	res, err := l.deps.Broker.Health(ctx)
	ok := err == nil && res != nil && res.OK

	l.mu.Lock()
	defer l.mu.Unlock()
	if ok {
		l.consecutiveFail = 0
		l.degraded = false
		return true
	}
	l.consecutiveFail++
	if l.consecutiveFail >= degradedThreshold {
		if !l.degraded {
			l.log.WithField("consecutive_failures", l.consecutiveFail).Warn("entering degraded state: health checks failing")
		}
		l.degraded = true
	}
	return !l.degraded
}

func (l *TradingLoop) isDegraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

func (l *TradingLoop) fetchAccountState(ctx context.Context) (models.Account, []broker.PositionInfo, error) {
	info, err := l.deps.Broker.AccountInfo(ctx)
	if err != nil {
		return models.Account{}, nil, err
	}
	positions, err := l.deps.Broker.OpenPositions(ctx, l.deps.Config.MagicNumber)
	if err != nil {
		return models.Account{}, nil, err
	}
	acct := models.Account{
		Balance: info.Balance, Equity: info.Equity, Margin: info.Margin,
		FreeMargin: info.FreeMargin, Currency: info.Currency, TradeAllowed: info.TradeAllowed,
	}
	return acct, positions, nil
}

func (l *TradingLoop) fetchBars(ctx context.Context, symbol string) ([]models.Bar, error) {
	const barsRequested = 200
	raw, err := l.deps.Broker.Rates(ctx, symbol, l.deps.Config.Timeframe, barsRequested)
	if err != nil {
		return nil, err
	}
	bars := make([]models.Bar, len(raw))
	for i, b := range raw {
		bars[i] = models.Bar{OpenTime: b.OpenTime(), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return bars, nil
}

func (l *TradingLoop) adoptUnknown(ctx context.Context, unknown []broker.PositionInfo, now time.Time) {
	for _, bp := range unknown {
		pos, err := l.deps.Adoption.Adopt(ctx, bp, now)
		if err != nil {
			l.log.WithField("ticket", bp.TicketID).WithError(err).Warn("adoption failed for unmanaged position")
			continue
		}
		l.deps.Tracker.Adopt(*pos)
	}
}

// tradeRowsForClosed records a trade row for every position the broker
// closed without engine involvement (stopped out, manually closed, etc.):
// the tracker's Sync already has entry price and realized P&L, so this
// needs no further broker calls.
func (l *TradingLoop) tradeRowsForClosed(closed []tracker.ClosedPosition) []storage.TradeRow {
	rows := make([]storage.TradeRow, 0, len(closed))
	for _, c := range closed {
		rows = append(rows, storage.TradeRow{
			EntryTS: c.Position.EntryTimeUTC, ExitTS: c.ClosedAtUTC,
			EntryPrice: c.Position.EntryPrice, Lot: c.Position.LotSize,
			PnL: c.RealizedPnL, ExitStrategy: "external",
		})
	}
	return rows
}

func (l *TradingLoop) evaluateRisk(sig models.Signal, acct models.Account, riskState models.RiskState, open []models.Position, mctx models.MarketContext, sym broker.SymbolInfo, atr, entryPrice float64) risk.Decision {
	in := risk.Input{
		Signal: sig, Account: acct, RiskState: riskState, OpenPositions: open,
		MarketContext: mctx, Symbol: symbolMeta(sym, l.deps.Config.Risk.MarginLeverage),
		ATR: atr, EntryPrice: entryPrice,
	}
	return l.deps.RiskEvaluator.Evaluate(in)
}

func (l *TradingLoop) placeOrder(ctx context.Context, sig models.Signal, decision risk.Decision, sym broker.SymbolInfo) (storage.OrderRow, bool) {
	req := broker.OrderRequest{
		Symbol: sig.Symbol, Side: string(sig.Side), Lot: decision.ApprovedLot,
		SL: decision.SuggestedSL, TP: decision.SuggestedTP,
		Magic: l.deps.Config.MagicNumber, Comment: "strategy:" + sig.StrategyID,
	}
	requestTS := time.Now()
	res, err := l.deps.Broker.PlaceOrder(ctx, req)
	if err != nil {
		l.log.WithField("symbol", sig.Symbol).WithError(err).Warn("order placement failed")
		return storage.OrderRow{}, false
	}

	row := storage.OrderRow{
		TSRequest: requestTS, TSAck: time.Now(), RequestPrice: decision.SuggestedSL,
		ExecutionPrice: res.FillPrice, Lot: decision.ApprovedLot, Status: "filled",
		LatencyMS: res.LatencyMS, Slippage: res.SlippagePoints,
	}

	if err := l.deps.Lifecycle.SetStops(ctx, res.TicketID, res.FillPrice, sym, decision.SuggestedSL, decision.SuggestedTP); err != nil {
		l.log.WithField("ticket", res.TicketID).WithError(err).Warn("post-fill stop confirmation rejected, order stops stand as submitted")
	}
	return row, true
}

func (l *TradingLoop) evaluateExits(ctx context.Context, positions []models.Position, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, tradeRows *[]storage.TradeRow) map[string]int {
	byStrategy := make(map[string]int)
	now := time.Now()

	for _, pos := range positions {
		price, fresh := l.freshPrice(pos.Symbol, now)
		if !fresh {
			continue
		}
		pctx := models.DerivePositionContext(pos, price, now)
		decision := l.deps.ExitCoordinator.Evaluate(pos, pctx, mctx, bars, snap, acct)
		if decision == nil {
			continue
		}
		byStrategy[decision.StrategyID]++

		sym, err := l.symbolInfo(ctx, pos.Symbol)
		if err != nil {
			continue
		}

		switch decision.Action {
		case models.ExitActionModify:
			if err := l.deps.Lifecycle.SetStops(ctx, pos.TicketID, price, sym, decision.NewSL, decision.NewTP); err != nil {
				if isStopsTooClose(err) {
					l.deps.ExitCoordinator.RecordRejection()
				}
				l.log.WithField("ticket", pos.TicketID).WithError(err).Warn("exit modify rejected")
			}
		case models.ExitActionClosePartial:
			res, err := l.deps.Lifecycle.PartialClose(ctx, pos, decision.PartialFraction)
			if err != nil {
				l.log.WithField("ticket", pos.TicketID).WithError(err).Warn("exit partial close failed")
				continue
			}
			*tradeRows = append(*tradeRows, partialTradeRow(pos, res, decision, now))
		case models.ExitActionCloseFull:
			res, err := l.deps.Lifecycle.FullClose(ctx, pos.TicketID)
			if err != nil {
				l.log.WithField("ticket", pos.TicketID).WithError(err).Warn("exit full close failed")
				continue
			}
			l.deps.Tracker.Remove(pos.TicketID)
			*tradeRows = append(*tradeRows, fullTradeRow(pos, res, decision, now))
		}
	}
	return byStrategy
}

func isStopsTooClose(err error) bool {
	return errors.Is(err, lifecycle.ErrStopsTooClose)
}

func partialTradeRow(pos models.Position, res *broker.CloseResult, decision *models.ExitDecision, now time.Time) storage.TradeRow {
	return storage.TradeRow{
		EntryTS: pos.EntryTimeUTC, ExitTS: now, EntryPrice: pos.EntryPrice, ExitPrice: res.ExitPrice,
		Lot: pos.LotSize * decision.PartialFraction, PnL: res.RealizedPnL, ExitStrategy: decision.StrategyID,
	}
}

func fullTradeRow(pos models.Position, res *broker.CloseResult, decision *models.ExitDecision, now time.Time) storage.TradeRow {
	return storage.TradeRow{
		EntryTS: pos.EntryTimeUTC, ExitTS: now, EntryPrice: pos.EntryPrice, ExitPrice: res.ExitPrice,
		Lot: pos.LotSize, PnL: res.RealizedPnL, ExitStrategy: decision.StrategyID,
	}
}

// runExitOnlyPass is the degraded path taken when AccountInfo/OpenPositions
// itself fails: spec.md §5 still wants exit logic to run against the
// tracker's last-known positions and cached prices, within the freshness
// window, even though the engine cannot refresh account state this cycle.
func (l *TradingLoop) runExitOnlyPass(ctx context.Context, start time.Time) {
	positions := l.deps.Tracker.Snapshot()
	l.mu.Lock()
	acct := l.lastAccount
	l.mu.Unlock()

	sym, err := l.symbolInfo(ctx, l.deps.Config.Symbol)
	mctx := models.MarketContext{}
	var bars []models.Bar
	var snap models.IndicatorSnapshot
	if err == nil {
		mctx = deriveMarketContext(snap, sym, bars, start)
	}

	var tradeRows []storage.TradeRow
	exitStats := l.evaluateExits(ctx, positions, mctx, bars, snap, acct, &tradeRows)

	l.finishCycle(start, false, nil, nil, tradeRows, metrics.Snapshot{
		PerStrategyExits: exitStats,
		OpenPositions:    len(positions),
	})
}

// snapshotPrices returns a copy of the cached last-known price map, used by
// Tracker.Sync to update excursion markers even on a cycle where no fresh
// bars were fetched yet this call.
func (l *TradingLoop) snapshotPrices() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.lastPrices))
	for k, v := range l.lastPrices {
		out[k] = v
	}
	return out
}

func (l *TradingLoop) recordPrice(symbol string, price float64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPrices[symbol] = price
	l.lastPriceAt[symbol] = at
}

func (l *TradingLoop) freshPrice(symbol string, now time.Time) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	price, ok := l.lastPrices[symbol]
	if !ok {
		return 0, false
	}
	at, ok := l.lastPriceAt[symbol]
	if !ok || now.Sub(at) > priceFreshness {
		return 0, false
	}
	return price, true
}

func exposureBySymbol(positions []models.Position) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range positions {
		out[p.Symbol] += p.LotSize
	}
	return out
}

// finishCycle persists the cycle's rows and metrics, records timing for the
// overshoot-detection logic in nextSleep, and invokes the watchdog kick.
func (l *TradingLoop) finishCycle(start time.Time, healthy bool, signals []storage.SignalRow, orders []storage.OrderRow, trades []storage.TradeRow, snap metrics.Snapshot) {
	duration := time.Since(start)
	interval := l.deps.Config.PollInterval()
	overshot := duration > 2*interval
	if overshot {
		l.log.WithField("duration", duration).WithField("poll_interval", interval).Warn("cycle overshot 2x poll interval, shortening next sleep")
		snap.CycleOvershoots = 1
	}
	snap.CycleDurationMS = float64(duration.Milliseconds())

	if err := l.deps.TradeDB.RecordCycle(signals, orders, trades); err != nil {
		l.log.WithError(err).Error("trade database write failed for this cycle")
	}
	l.deps.MetricsWorker.Push(snap)

	l.mu.Lock()
	l.lastCycleEnd = time.Now()
	l.lastCycleDur = duration
	riskState := l.riskState
	account := l.lastAccount
	positions := l.positionsMap()
	l.mu.Unlock()

	if err := l.deps.SnapshotStore.Save(storage.Snapshot{Account: account, RiskState: riskState, Positions: positions}); err != nil {
		l.log.WithError(err).Error("snapshot persistence failed")
	}

	if l.kick != nil {
		l.kick()
	}

	entry := l.log.WithField("duration_ms", duration.Milliseconds())
	if !healthy {
		entry.Debug("cycle complete (unhealthy)")
	} else {
		entry.Debug("cycle complete")
	}
}

func (l *TradingLoop) positionsMap() map[int64]models.Position {
	out := make(map[int64]models.Position)
	for _, p := range l.deps.Tracker.Snapshot() {
		out[p.TicketID] = p
	}
	return out
}
