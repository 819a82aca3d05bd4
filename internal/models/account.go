package models

// Phase is the tiered account state that drives risk scaling.
type Phase string

// Phases, ordered from smallest to largest balance tier.
const (
	PhaseMicro       Phase = "micro"
	PhaseSeed        Phase = "seed"
	PhaseGrowth      Phase = "growth"
	PhaseEstablished Phase = "established"
	PhaseMature      Phase = "mature"
	PhaseRecovery    Phase = "recovery"
)

// Account is the broker account snapshot, refreshed every cycle.
type Account struct {
	Balance      float64
	Equity       float64
	Margin       float64
	FreeMargin   float64
	Currency     string
	TradeAllowed bool
	Phase        Phase
}

// DerivePhase computes the account phase from balance tiers, forcing
// "recovery" whenever drawdown exceeds the configured threshold. Tier
// boundaries match spec.md §4.7 gate 5.
func DerivePhase(balance, drawdownPct, recoveryThresholdPct float64) Phase {
	if drawdownPct > recoveryThresholdPct {
		return PhaseRecovery
	}
	switch {
	case balance <= 25:
		return PhaseMicro
	case balance <= 100:
		return PhaseSeed
	case balance <= 500:
		return PhaseGrowth
	case balance <= 2000:
		return PhaseEstablished
	default:
		return PhaseMature
	}
}

// DrawdownTier is the bucketed drawdown percentage driving risk multipliers.
type DrawdownTier string

// Drawdown tiers, per spec.md §4.7 gate 6.
const (
	DrawdownNormal    DrawdownTier = "normal"
	DrawdownWarning   DrawdownTier = "warning"
	DrawdownSevere    DrawdownTier = "severe"
	DrawdownCritical  DrawdownTier = "critical"
	DrawdownEmergency DrawdownTier = "emergency"
)

// DeriveDrawdownTier buckets a drawdown percentage (0-100 scale) into a tier.
func DeriveDrawdownTier(drawdownPct float64) DrawdownTier {
	switch {
	case drawdownPct < 5:
		return DrawdownNormal
	case drawdownPct < 10:
		return DrawdownWarning
	case drawdownPct < 15:
		return DrawdownSevere
	case drawdownPct < 20:
		return DrawdownCritical
	default:
		return DrawdownEmergency
	}
}

// DrawdownMultiplier returns the risk multiplier for a drawdown tier, per
// spec.md §4.7 gate 6.
func DrawdownMultiplier(tier DrawdownTier) float64 {
	switch tier {
	case DrawdownNormal:
		return 1.0
	case DrawdownWarning:
		return 0.75
	case DrawdownSevere:
		return 0.5
	case DrawdownCritical:
		return 0.25
	case DrawdownEmergency:
		return 0.0
	default:
		return 0.0
	}
}
