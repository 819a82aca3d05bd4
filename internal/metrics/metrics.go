// Package metrics implements the MetricsCollector of spec.md §4.9: a
// prometheus.Registry of gauges/counters covering account state, P&L
// aggregates, execution quality, and per-strategy/per-symbol breakdowns,
// drained by a background worker into a schema-stable CSV and an atomically
// replaced Prometheus text file. The registry-of-typed-metrics shape is
// grounded on the teacher corpus's `chidi150c-coinbase` bot (package-level
// prometheus.NewCounterVec/GaugeVec registered once, set from the trading
// loop) rather than on the teacher itself, which exposes no metrics at all.
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Snapshot is the flattened per-cycle observation the engine hands to the
// Collector. Every field here becomes one or more time series.
type Snapshot struct {
	Balance       float64
	Equity        float64
	Margin        float64
	FreeMargin    float64
	DailyPnL      float64
	DrawdownPct   float64
	WinRate       float64
	ProfitFactor  float64
	Sharpe        float64
	OpenPositions int

	SignalsGenerated int
	SignalsAccepted  int
	SignalsRejected  int

	OrderLatencyMS float64
	SlippagePips   float64

	CycleDurationMS float64
	CycleOvershoots int

	PerStrategySignals map[string]int
	PerStrategyExits   map[string]int
	PerSymbolExposure  map[string]float64
}

// Collector owns the prometheus.Registry and every metric family it
// contains. It is safe to call Observe from the engine's single cycle
// goroutine; it is not safe to call concurrently with itself.
type Collector struct {
	registry *prometheus.Registry

	balance       prometheus.Gauge
	equity        prometheus.Gauge
	margin        prometheus.Gauge
	freeMargin    prometheus.Gauge
	dailyPnL      prometheus.Gauge
	drawdownPct   prometheus.Gauge
	winRate       prometheus.Gauge
	profitFactor  prometheus.Gauge
	sharpe        prometheus.Gauge
	openPositions prometheus.Gauge

	signalsGenerated prometheus.Counter
	signalsAccepted  prometheus.Counter
	signalsRejected  prometheus.Counter

	orderLatency prometheus.Gauge
	slippage     prometheus.Gauge

	cycleDuration   prometheus.Gauge
	cycleOvershoots prometheus.Counter

	strategySignals *prometheus.GaugeVec
	strategyExits   *prometheus.GaugeVec
	symbolExposure  *prometheus.GaugeVec
}

// New builds a Collector with every metric family registered, including the
// stdlib process and Go runtime collectors so CPU/mem are covered per
// spec.md §4.9's "system CPU/mem" field group.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	c := &Collector{
		registry: reg,
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_account_balance", Help: "Account balance in account currency.",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_account_equity", Help: "Account equity including floating P&L.",
		}),
		margin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_account_margin", Help: "Margin in use.",
		}),
		freeMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_account_free_margin", Help: "Free margin available for new positions.",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_daily_pnl", Help: "Realized P&L since the last UTC day boundary.",
		}),
		drawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_drawdown_pct", Help: "Current drawdown from peak equity, percent.",
		}),
		winRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_win_rate", Help: "Fraction of closed trades that were profitable.",
		}),
		profitFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_profit_factor", Help: "Gross profit over gross loss.",
		}),
		sharpe: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_sharpe_ratio", Help: "Rolling Sharpe ratio of closed-trade returns.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_open_positions", Help: "Currently open, tracked positions.",
		}),
		signalsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cthulu_signals_generated_total", Help: "Candidate signals produced by the strategy registry.",
		}),
		signalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cthulu_signals_accepted_total", Help: "Signals approved by the risk evaluator.",
		}),
		signalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cthulu_signals_rejected_total", Help: "Signals rejected by the risk evaluator.",
		}),
		orderLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_order_latency_ms", Help: "Latency of the most recent order round-trip, milliseconds.",
		}),
		slippage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_order_slippage_pips", Help: "Slippage of the most recent order, pips.",
		}),
		cycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cthulu_cycle_duration_ms", Help: "Wall-clock duration of the most recent trading cycle.",
		}),
		cycleOvershoots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cthulu_cycle_overshoots_total", Help: "Cycles that exceeded 2x the poll interval.",
		}),
		strategySignals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cthulu_strategy_signals", Help: "Signals produced this cycle by strategy.",
		}, []string{"strategy"}),
		strategyExits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cthulu_strategy_exits", Help: "Exit decisions this cycle by exit strategy.",
		}, []string{"strategy"}),
		symbolExposure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cthulu_symbol_exposure_lots", Help: "Open lot exposure by symbol.",
		}, []string{"symbol"}),
	}

	reg.MustRegister(
		c.balance, c.equity, c.margin, c.freeMargin, c.dailyPnL, c.drawdownPct,
		c.winRate, c.profitFactor, c.sharpe, c.openPositions,
		c.signalsGenerated, c.signalsAccepted, c.signalsRejected,
		c.orderLatency, c.slippage, c.cycleDuration, c.cycleOvershoots,
		c.strategySignals, c.strategyExits, c.symbolExposure,
	)
	return c
}

// Registry exposes the underlying prometheus.Registry, e.g. for wiring to
// promhttp.HandlerFor on the health endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe sets every gauge from snap and increments the cycle's counters.
// Counters in snap are deltas for this cycle, not running totals.
func (c *Collector) Observe(snap Snapshot) {
	c.balance.Set(snap.Balance)
	c.equity.Set(snap.Equity)
	c.margin.Set(snap.Margin)
	c.freeMargin.Set(snap.FreeMargin)
	c.dailyPnL.Set(snap.DailyPnL)
	c.drawdownPct.Set(snap.DrawdownPct)
	c.winRate.Set(snap.WinRate)
	c.profitFactor.Set(snap.ProfitFactor)
	c.sharpe.Set(snap.Sharpe)
	c.openPositions.Set(float64(snap.OpenPositions))

	c.signalsGenerated.Add(float64(snap.SignalsGenerated))
	c.signalsAccepted.Add(float64(snap.SignalsAccepted))
	c.signalsRejected.Add(float64(snap.SignalsRejected))

	c.orderLatency.Set(snap.OrderLatencyMS)
	c.slippage.Set(snap.SlippagePips)
	c.cycleDuration.Set(snap.CycleDurationMS)
	c.cycleOvershoots.Add(float64(snap.CycleOvershoots))

	c.strategySignals.Reset()
	for k, v := range snap.PerStrategySignals {
		c.strategySignals.WithLabelValues(k).Set(float64(v))
	}
	c.strategyExits.Reset()
	for k, v := range snap.PerStrategyExits {
		c.strategyExits.WithLabelValues(k).Set(float64(v))
	}
	c.symbolExposure.Reset()
	for k, v := range snap.PerSymbolExposure {
		c.symbolExposure.WithLabelValues(k).Set(v)
	}
}

// csvRow flattens the current gauge/counter values into a stable column
// order for CSV export. Per-strategy/per-symbol breakdowns are flattened in
// sorted-key order so the column set only grows, never reorders.
func (c *Collector) csvRow(snap Snapshot) (header []string, row []string) {
	header = []string{
		"balance", "equity", "margin", "free_margin", "daily_pnl", "drawdown_pct",
		"win_rate", "profit_factor", "sharpe", "open_positions",
		"signals_generated", "signals_accepted", "signals_rejected",
		"order_latency_ms", "slippage_pips", "cycle_duration_ms", "cycle_overshoots",
	}
	row = []string{
		ftoa(snap.Balance), ftoa(snap.Equity), ftoa(snap.Margin), ftoa(snap.FreeMargin),
		ftoa(snap.DailyPnL), ftoa(snap.DrawdownPct), ftoa(snap.WinRate), ftoa(snap.ProfitFactor),
		ftoa(snap.Sharpe), itoa(snap.OpenPositions),
		itoa(snap.SignalsGenerated), itoa(snap.SignalsAccepted), itoa(snap.SignalsRejected),
		ftoa(snap.OrderLatencyMS), ftoa(snap.SlippagePips), ftoa(snap.CycleDurationMS), itoa(snap.CycleOvershoots),
	}

	for _, k := range sortedKeys(snap.PerStrategySignals) {
		header = append(header, "strategy_signals_"+k)
		row = append(row, itoa(snap.PerStrategySignals[k]))
	}
	for _, k := range sortedKeys(snap.PerStrategyExits) {
		header = append(header, "strategy_exits_"+k)
		row = append(row, itoa(snap.PerStrategyExits[k]))
	}
	for _, k := range sortedFloatKeys(snap.PerSymbolExposure) {
		header = append(header, "exposure_"+k)
		row = append(row, ftoa(snap.PerSymbolExposure[k]))
	}
	return header, row
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedFloatKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
