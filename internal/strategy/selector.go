package strategy

import (
	"sort"

	"cthuluengine/internal/models"
)

// Advisor optionally reshapes a strategy's confidence before the selector
// weighs it. The selector uses the returned value as the signal's new
// confidence, clamped to [0,1]; this is the out-of-scope "LLM confidence
// reshaping" hook named in spec.md §4.3 — the engine ships with no
// implementation wired in, only the extension point.
type Advisor interface {
	Advise(sig models.Signal, mctx models.MarketContext) float64
}

// Weight configures a single strategy's base weight and regime affinity
// multiplier for the DynamicSelector.
type Weight struct {
	Base float64
	// RegimeAffinity returns the multiplier to apply given the current
	// market context, e.g. trend-follow ×1.5 when ADX ≥ 25.
	RegimeAffinity func(mctx models.MarketContext) float64
}

func (w Weight) multiplier(mctx models.MarketContext) float64 {
	m := w.Base
	if w.RegimeAffinity != nil {
		m *= w.RegimeAffinity(mctx)
	}
	return m
}

// DynamicSelector runs every configured strategy and reduces the results to
// at most one signal per (symbol, side), per spec.md §4.3.
type DynamicSelector struct {
	Registry Registry
	Weights  map[string]Weight
	Advisor  Advisor
}

// NewDynamicSelector builds a selector over the default registry with the
// regime-affinity weights named in spec.md §4.3: trend-follow favored in
// strong trends, mean-reversion suppressed in them.
func NewDynamicSelector() *DynamicSelector {
	return &DynamicSelector{
		Registry: DefaultRegistry(),
		Weights: map[string]Weight{
			IDSMACross:         {Base: 1.0},
			IDEMACross:         {Base: 1.0},
			IDMomentumBreakout: {Base: 1.0},
			IDScalping:         {Base: 0.8},
			IDTrendFollow: {Base: 1.0, RegimeAffinity: func(mctx models.MarketContext) float64 {
				if mctx.TrendStrength >= 25 {
					return 1.5
				}
				return 1.0
			}},
			IDMeanReversion: {Base: 1.0, RegimeAffinity: func(mctx models.MarketContext) float64 {
				if mctx.TrendStrength >= 25 {
					return 0.0
				}
				return 1.0
			}},
			IDRSIReversal: {Base: 0.9},
		},
	}
}

// Select runs ids against series/snap/mctx/cfg and returns at most one
// signal per (symbol, side): signals below cfg.MinConfidence are discarded,
// survivors are weighted by strategy weight × regime affinity (and
// optionally reshaped by an Advisor), and the highest weighted confidence
// wins with ties broken alphabetically by strategy_id for determinism.
func (d *DynamicSelector) Select(ids []string, series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) []models.Signal {
	raw := d.Registry.Evaluate(ids, series, snap, mctx, cfg)

	type scored struct {
		sig    models.Signal
		weight float64
	}
	buckets := make(map[models.Side][]scored)
	for _, sig := range raw {
		if sig.Confidence < cfg.MinConfidence {
			continue
		}
		if d.Advisor != nil {
			sig.Confidence = clamp01(d.Advisor.Advise(sig, mctx))
		}
		w := 1.0
		if cw, ok := d.Weights[sig.StrategyID]; ok {
			w = cw.multiplier(mctx)
		}
		buckets[sig.Side] = append(buckets[sig.Side], scored{sig: sig, weight: sig.Confidence * w})
	}

	var out []models.Signal
	for _, side := range []models.Side{models.SideLong, models.SideShort} {
		candidates := buckets[side]
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].weight != candidates[j].weight {
				return candidates[i].weight > candidates[j].weight
			}
			return candidates[i].sig.StrategyID < candidates[j].sig.StrategyID
		})
		out = append(out, candidates[0].sig)
	}
	return out
}
