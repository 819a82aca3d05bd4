// Package risk implements the multi-gate approval pipeline that sits
// between a Strategy's candidate Signal and an actual broker order. Nine
// gates run in a fixed order (first failure rejects); this generalizes the
// teacher's buying-power/allocation checks in StrangleStrategy into a
// composable pipeline, since an MT5 engine trades many symbols and
// directions at once rather than one fixed strangle.
package risk

import (
	"fmt"

	"cthuluengine/internal/models"
)

// Decision is the pure output of Evaluate.
type Decision struct {
	Approved    bool
	Reason      string
	ApprovedLot float64
	SuggestedSL float64
	SuggestedTP float64
}

// PhaseLimits bounds risk per account Phase, per spec.md §4.7 gate 5.
type PhaseLimits struct {
	MaxRiskPctPerTrade float64
	MaxTradesPerDay    int
}

// Config bundles every threshold the nine gates reference.
type Config struct {
	EmergencyStop bool // operator-set kill switch, independent of drawdown tier

	MaxDailyLoss float64

	MaxTotalPositions     int
	MaxPositionsPerSymbol int

	MaxSpreadThreshold float64
	MinVolumeThreshold float64
	MaxGapThreshold    float64

	RecoveryThresholdPct float64
	PhaseLimits          map[models.Phase]PhaseLimits

	BaseRiskPct float64

	ATRMultSL float64 // default 2.0
	ATRMultTP float64 // default 4.0

	FreeMarginUtilization float64 // default 0.9
}

// DefaultConfig returns the thresholds named in spec.md §4.7.
func DefaultConfig() Config {
	return Config{
		MaxDailyLoss:          100,
		MaxTotalPositions:     10,
		MaxPositionsPerSymbol: 2,
		MaxSpreadThreshold:    3.0,
		MinVolumeThreshold:    1,
		MaxGapThreshold:       50,
		RecoveryThresholdPct:  15,
		PhaseLimits: map[models.Phase]PhaseLimits{
			models.PhaseMicro:       {MaxRiskPctPerTrade: 0.02, MaxTradesPerDay: 3},
			models.PhaseSeed:        {MaxRiskPctPerTrade: 0.015, MaxTradesPerDay: 5},
			models.PhaseGrowth:      {MaxRiskPctPerTrade: 0.01, MaxTradesPerDay: 8},
			models.PhaseEstablished: {MaxRiskPctPerTrade: 0.0075, MaxTradesPerDay: 10},
			models.PhaseMature:      {MaxRiskPctPerTrade: 0.005, MaxTradesPerDay: 15},
			models.PhaseRecovery:    {MaxRiskPctPerTrade: 0.0025, MaxTradesPerDay: 2},
		},
		BaseRiskPct:           0.01,
		ATRMultSL:             2.0,
		ATRMultTP:             4.0,
		FreeMarginUtilization: 0.9,
	}
}

// Evaluator runs the nine ordered gates of spec.md §4.7.
type Evaluator struct {
	cfg Config
}

// New builds an Evaluator.
func New(cfg Config) *Evaluator {
	if cfg.PhaseLimits == nil {
		cfg = DefaultConfig()
	}
	return &Evaluator{cfg: cfg}
}

// SymbolMeta bundles the broker-reported symbol metadata gates 8-9 need for
// sizing, plus the engine-derived pip value and margin leverage that the
// bridge's /symbol endpoint does not report directly.
type SymbolMeta struct {
	LotStep        float64
	MinLot         float64
	MaxLot         float64
	ContractSize   float64
	PipValue       float64 // account-currency value of one pip for one lot
	MarginLeverage float64 // e.g. 100 for 1:100; 0 disables the margin gate
}

// Input bundles everything a gate may need to read.
type Input struct {
	Signal        models.Signal
	Account       models.Account
	RiskState     models.RiskState
	OpenPositions []models.Position
	MarketContext models.MarketContext
	Symbol        SymbolMeta
	ATR           float64
	EntryPrice    float64
}

func reject(reason string) Decision { return Decision{Approved: false, Reason: reason} }

// Evaluate runs gates 1-9 in order against in, returning the first
// rejection or a fully sized approval.
func (e *Evaluator) Evaluate(in Input) Decision {
	if d, ok := e.gateTradingPermitted(in); !ok {
		return d
	}
	if d, ok := e.gateDailyLossCap(in); !ok {
		return d
	}
	if d, ok := e.gateConcurrentPositions(in); !ok {
		return d
	}
	if d, ok := e.gateLiquidityTrap(in); !ok {
		return d
	}
	phase, phaseLimits, d, ok := e.gateAccountPhase(in)
	if !ok {
		return d
	}
	drawdownMult := models.DrawdownMultiplier(models.DeriveDrawdownTier(in.RiskState.CurrentDrawdownPct))
	if drawdownMult <= 0 {
		return reject(fmt.Sprintf("drawdown tier %s halts trading", models.DeriveDrawdownTier(in.RiskState.CurrentDrawdownPct)))
	}

	sl, tp := in.Signal.SuggestedSL, in.Signal.SuggestedTP
	if sl == 0 && in.ATR > 0 {
		sl, tp = synthesizeStops(in.Signal.Side, in.EntryPrice, in.ATR, e.cfg.ATRMultSL, e.cfg.ATRMultTP)
	}
	if d, ok := e.gateMaxSLFraction(in, sl); !ok {
		return d
	}

	lot, d, ok := e.gatePositionSizing(in, phase, phaseLimits, drawdownMult, sl)
	if !ok {
		return d
	}

	if d, ok := e.gateFreeMargin(in, lot); !ok {
		return d
	}

	return Decision{Approved: true, Reason: "approved", ApprovedLot: lot, SuggestedSL: sl, SuggestedTP: tp}
}

func (e *Evaluator) gateTradingPermitted(in Input) (Decision, bool) {
	if e.cfg.EmergencyStop {
		return reject("emergency stop engaged"), false
	}
	if !in.Account.TradeAllowed {
		return reject("account does not permit trading"), false
	}
	return Decision{}, true
}

func (e *Evaluator) gateDailyLossCap(in Input) (Decision, bool) {
	if in.RiskState.DailyRealizedPnL <= -e.cfg.MaxDailyLoss {
		return reject(fmt.Sprintf("daily loss cap breached: %.2f <= -%.2f", in.RiskState.DailyRealizedPnL, e.cfg.MaxDailyLoss)), false
	}
	return Decision{}, true
}

func (e *Evaluator) gateConcurrentPositions(in Input) (Decision, bool) {
	if e.cfg.MaxTotalPositions > 0 && len(in.OpenPositions) >= e.cfg.MaxTotalPositions {
		return reject(fmt.Sprintf("max total positions reached: %d", e.cfg.MaxTotalPositions)), false
	}
	if e.cfg.MaxPositionsPerSymbol > 0 {
		count := 0
		for _, p := range in.OpenPositions {
			if p.Symbol == in.Signal.Symbol {
				count++
			}
		}
		if count >= e.cfg.MaxPositionsPerSymbol {
			return reject(fmt.Sprintf("max positions per symbol reached for %s: %d", in.Signal.Symbol, e.cfg.MaxPositionsPerSymbol)), false
		}
	}
	return Decision{}, true
}

func (e *Evaluator) gateLiquidityTrap(in Input) (Decision, bool) {
	if e.cfg.MaxSpreadThreshold > 0 && in.MarketContext.SpreadPips > e.cfg.MaxSpreadThreshold {
		return reject(fmt.Sprintf("spread %.2f exceeds threshold %.2f", in.MarketContext.SpreadPips, e.cfg.MaxSpreadThreshold)), false
	}
	if e.cfg.MinVolumeThreshold > 0 && in.MarketContext.Volume < e.cfg.MinVolumeThreshold {
		return reject(fmt.Sprintf("volume %.2f below threshold %.2f", in.MarketContext.Volume, e.cfg.MinVolumeThreshold)), false
	}
	if e.cfg.MaxGapThreshold > 0 && in.MarketContext.LastBarGap > e.cfg.MaxGapThreshold {
		return reject(fmt.Sprintf("last-bar gap %.2f exceeds threshold %.2f", in.MarketContext.LastBarGap, e.cfg.MaxGapThreshold)), false
	}
	return Decision{}, true
}

func (e *Evaluator) gateAccountPhase(in Input) (models.Phase, PhaseLimits, Decision, bool) {
	phase := models.DerivePhase(in.Account.Balance, in.RiskState.CurrentDrawdownPct, e.cfg.RecoveryThresholdPct)
	limits, ok := e.cfg.PhaseLimits[phase]
	if !ok {
		return phase, PhaseLimits{}, reject(fmt.Sprintf("no risk limits configured for phase %s", phase)), false
	}
	if limits.MaxTradesPerDay > 0 && in.RiskState.DailyTradeCount >= limits.MaxTradesPerDay {
		return phase, limits, reject(fmt.Sprintf("max trades per day reached for phase %s: %d", phase, limits.MaxTradesPerDay)), false
	}
	return phase, limits, Decision{}, true
}

func (e *Evaluator) gateMaxSLFraction(in Input, sl float64) (Decision, bool) {
	if sl == 0 {
		return Decision{}, true
	}
	distance := in.EntryPrice - sl
	if distance < 0 {
		distance = -distance
	}
	frac := slFractionForBalance(in.Account.Balance)
	if distance > frac*in.Account.Balance {
		return reject(fmt.Sprintf("sl distance %.2f exceeds %.4f of balance", distance, frac)), false
	}
	return Decision{}, true
}

// slFractionForBalance buckets balance into the SL-fraction tiers of
// spec.md §4.7 gate 7.
func slFractionForBalance(balance float64) float64 {
	switch {
	case balance <= 1000:
		return 0.01
	case balance <= 5000:
		return 0.02
	case balance <= 20000:
		return 0.05
	default:
		return 0.05
	}
}

func (e *Evaluator) gatePositionSizing(in Input, phase models.Phase, limits PhaseLimits, drawdownMult, sl float64) (float64, Decision, bool) {
	// Phase tiers express the per-trade risk fraction directly, superseding
	// the engine-wide BaseRiskPct default.
	targetRisk := in.Account.Balance * limits.MaxRiskPctPerTrade * drawdownMult

	distance := in.EntryPrice - sl
	if distance < 0 {
		distance = -distance
	}
	if distance == 0 || in.Symbol.PipValue <= 0 {
		return 0, reject("position sizing: zero stop distance or pip value"), false
	}

	lot := targetRisk / (distance * in.Symbol.PipValue)
	if in.Signal.SuggestedLot > 0 && lot > in.Signal.SuggestedLot {
		lot = in.Signal.SuggestedLot
	}
	lot = snapToStep(lot, in.Symbol.LotStep)
	if lot < in.Symbol.MinLot {
		return 0, reject(fmt.Sprintf("position sizing: computed lot %.4f below min_lot %.4f for phase %s", lot, in.Symbol.MinLot, phase)), false
	}
	if in.Symbol.MaxLot > 0 && lot > in.Symbol.MaxLot {
		lot = in.Symbol.MaxLot
	}
	return lot, Decision{}, true
}

func (e *Evaluator) gateFreeMargin(in Input, lot float64) (Decision, bool) {
	required := lot * in.Symbol.ContractSize * in.EntryPrice / in.Symbol.MarginLeverage
	if in.Symbol.MarginLeverage <= 0 {
		required = 0
	}
	if required > in.Account.FreeMargin*e.cfg.FreeMarginUtilization {
		return reject(fmt.Sprintf("required margin %.2f exceeds %.0f%% of free margin %.2f", required, e.cfg.FreeMarginUtilization*100, in.Account.FreeMargin)), false
	}
	return Decision{}, true
}

func synthesizeStops(side models.Side, entry, atr, slMult, tpMult float64) (sl, tp float64) {
	switch side {
	case models.SideLong:
		return entry - slMult*atr, entry + tpMult*atr
	case models.SideShort:
		return entry + slMult*atr, entry - tpMult*atr
	default:
		return 0, 0
	}
}

func snapToStep(lot, step float64) float64 {
	if step <= 0 {
		return lot
	}
	steps := lot / step
	rounded := float64(int64(steps + 0.5))
	return rounded * step
}
