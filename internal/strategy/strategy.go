// Package strategy generalizes the teacher's single StrangleStrategy into a
// registry of interchangeable, pure signal-generating functions plus a
// DynamicSelector that reduces their output to at most one signal per
// (symbol, side) each cycle.
package strategy

import "cthuluengine/internal/models"

// Func is the shape every built-in strategy implements: given a bar series,
// the indicator snapshot computed from its tail, and the current market
// context, it returns a candidate Signal or nil. Implementations must not
// mutate series, snap, or mctx and must not retain state between calls.
type Func func(series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) *models.Signal

// Config bundles the tunable parameters for every built-in strategy. A
// running engine typically only populates the fields its configured
// strategies read; the zero value of an unused field is never dereferenced.
type Config struct {
	MinConfidence float64

	SMAFastPeriod int
	SMASlowPeriod int

	EMAFastPeriod int
	EMASlowPeriod int

	BreakoutLookback   int
	BreakoutVolumeMult float64

	ScalpRSILongMax    float64 // default 65
	ScalpRSIShortMin   float64 // default 35
	ScalpMaxSpreadPips float64
	ScalpATRMultSL     float64
	ScalpATRMultTP     float64

	TrendADXThreshold float64

	MeanReversionStdDev        float64
	MeanReversionRSIOverbought float64
	MeanReversionRSIOversold   float64

	RSIOverbought float64
	RSIOversold   float64

	ATRPeriod int
}

// DefaultConfig returns the parameter defaults named in spec.md §4.3.
func DefaultConfig() Config {
	return Config{
		MinConfidence:              0.5,
		SMAFastPeriod:              10,
		SMASlowPeriod:              30,
		EMAFastPeriod:              12,
		EMASlowPeriod:              26,
		BreakoutLookback:           20,
		BreakoutVolumeMult:         1.5,
		ScalpRSILongMax:            65,
		ScalpRSIShortMin:           35,
		ScalpMaxSpreadPips:         2.0,
		ScalpATRMultSL:             0.5,
		ScalpATRMultTP:             0.75,
		TrendADXThreshold:          25,
		MeanReversionStdDev:        2.0,
		MeanReversionRSIOverbought: 70,
		MeanReversionRSIOversold:   30,
		RSIOverbought:              70,
		RSIOversold:                30,
		ATRPeriod:                  14,
	}
}

// Named IDs for the built-in strategies, used as Signal.StrategyID and as
// registry keys.
const (
	IDSMACross         = "sma_cross"
	IDEMACross         = "ema_cross"
	IDMomentumBreakout = "momentum_breakout"
	IDScalping         = "scalping"
	IDTrendFollow      = "trend_follow"
	IDMeanReversion    = "mean_reversion"
	IDRSIReversal      = "rsi_reversal"
)

// Registry maps a strategy_id to its pure evaluation function.
type Registry map[string]Func

// DefaultRegistry returns every built-in strategy keyed by its ID.
func DefaultRegistry() Registry {
	return Registry{
		IDSMACross:         SMACross,
		IDEMACross:         EMACross,
		IDMomentumBreakout: MomentumBreakout,
		IDScalping:         Scalping,
		IDTrendFollow:      TrendFollow,
		IDMeanReversion:    MeanReversion,
		IDRSIReversal:      RSIReversal,
	}
}

// Evaluate runs every strategy named in ids (skipping unknown ids) against
// the same series/snap/mctx/cfg and returns every non-nil signal produced.
func (r Registry) Evaluate(ids []string, series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) []models.Signal {
	var out []models.Signal
	for _, id := range ids {
		fn, ok := r[id]
		if !ok {
			continue
		}
		if sig := fn(series, snap, mctx, cfg); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
