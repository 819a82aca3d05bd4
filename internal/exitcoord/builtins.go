package exitcoord

import (
	"fmt"

	"cthuluengine/internal/models"
)

// SurvivalMode fires when the account's free margin has fallen to (or below)
// a hard floor: every open position is closed outright regardless of its
// own P&L, since the account itself is at risk of a margin call.
func SurvivalMode(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	if acct.FreeMargin > cfg.FreeMarginThreshold {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDSurvivalMode,
		Priority:   basePriority[IDSurvivalMode],
		Reason:     fmt.Sprintf("free margin %.2f at or below survival floor %.2f", acct.FreeMargin, cfg.FreeMarginThreshold),
	}
}

// MicroProtection closes a micro- or seed-phase position once it has been
// held at least MicroProtectionMinHold and its MFE has reached
// MicroProtectionPips, protecting small accounts where a single adverse
// swing could wipe out several cycles of gains.
func MicroProtection(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	if acct.Phase != models.PhaseMicro && acct.Phase != models.PhaseSeed {
		return nil
	}
	if pctx.HoldingTime < cfg.MicroProtectionMinHold {
		return nil
	}
	if pctx.MFE < cfg.MicroProtectionPips {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDMicroProtection,
		Priority:   basePriority[IDMicroProtection],
		Reason:     fmt.Sprintf("micro-phase profit lock at MFE %.5f", pctx.MFE),
	}
}

// StopLoss fires when the current price has reached or passed the position's
// own stop level, per its side.
func StopLoss(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	if pos.SLPrice == 0 || len(bars) == 0 {
		return nil
	}
	last := bars[len(bars)-1].Close
	hit := false
	switch pos.Side {
	case models.SideLong:
		hit = last <= pos.SLPrice
	case models.SideShort:
		hit = last >= pos.SLPrice
	}
	if !hit {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDStopLoss,
		Priority:   basePriority[IDStopLoss],
		Reason:     fmt.Sprintf("price %.5f reached stop %.5f", last, pos.SLPrice),
	}
}

// AdverseMovement fires on a sharp multi-bar move against the position even
// before its hard stop is reached, sized against ATR so it scales with
// current volatility rather than a fixed pip count.
func AdverseMovement(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	if snap.ATR <= 0 || len(bars) < cfg.AdverseMoveBars+1 {
		return nil
	}
	recent := bars[len(bars)-cfg.AdverseMoveBars-1:]
	move := recent[len(recent)-1].Close - recent[0].Close
	adverse := false
	switch pos.Side {
	case models.SideLong:
		adverse = -move >= cfg.AdverseMoveATRMult*snap.ATR
	case models.SideShort:
		adverse = move >= cfg.AdverseMoveATRMult*snap.ATR
	}
	if !adverse {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDAdverseMovement,
		Priority:   basePriority[IDAdverseMovement],
		Reason:     fmt.Sprintf("adverse %d-bar move exceeds %.2fx ATR", cfg.AdverseMoveBars, cfg.AdverseMoveATRMult),
	}
}

// TrailingStop activates once a position has moved favorably by at least
// TrailingActivationR multiples of its original risk distance, then ratchets
// the stop up to TrailingDistanceR behind the current price.
func TrailingStop(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	riskDist := pos.InitialRiskDistance
	if riskDist <= 0 || len(bars) == 0 {
		return nil
	}
	r := pctx.MFE / riskDist
	if r < cfg.TrailingActivationR {
		return nil
	}
	last := bars[len(bars)-1].Close
	trail := cfg.TrailingDistanceR * riskDist
	var newSL float64
	switch pos.Side {
	case models.SideLong:
		newSL = last - trail
		if newSL <= pos.SLPrice {
			return nil
		}
	case models.SideShort:
		newSL = last + trail
		if pos.SLPrice != 0 && newSL >= pos.SLPrice {
			return nil
		}
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionModify,
		NewSL:      newSL,
		NewTP:      pos.TPPrice,
		StrategyID: IDTrailingStop,
		Priority:   basePriority[IDTrailingStop],
		Reason:     fmt.Sprintf("trailing stop ratcheted to %.5f at %.2fR", newSL, r),
	}
}

// SessionClose flattens positions approaching the market close to avoid
// holding risk over the weekend or maintenance gap.
func SessionClose(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	if !mctx.NearMarketClose {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDSessionClose,
		Priority:   basePriority[IDSessionClose],
		Reason:     "market close approaching",
	}
}

// ProfitTarget closes the full position once its MFE reaches TargetR
// multiples of its original risk distance.
func ProfitTarget(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	riskDist := pos.InitialRiskDistance
	if riskDist <= 0 || cfg.TargetR <= 0 {
		return nil
	}
	if pctx.MFE/riskDist < cfg.TargetR {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDProfitTarget,
		Priority:   basePriority[IDProfitTarget],
		Reason:     fmt.Sprintf("reward reached %.2fR target", cfg.TargetR),
	}
}

// TakeProfit fires when the current price has reached or passed the
// position's own take-profit level.
func TakeProfit(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	if pos.TPPrice == 0 || len(bars) == 0 {
		return nil
	}
	last := bars[len(bars)-1].Close
	hit := false
	switch pos.Side {
	case models.SideLong:
		hit = last >= pos.TPPrice
	case models.SideShort:
		hit = last <= pos.TPPrice
	}
	if !hit {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDTakeProfit,
		Priority:   basePriority[IDTakeProfit],
		Reason:     fmt.Sprintf("price %.5f reached target %.5f", last, pos.TPPrice),
	}
}

// ConfluenceExit closes a profitable position when two indicators both sit
// against the held side: RSI on the far side of 50 and Supertrend on the
// opposite side. Both must agree; the required count is fixed at two, and
// RSI's prior value (whether it came from an extreme) is not checked.
func ConfluenceExit(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	if !pctx.IsProfitable {
		return nil
	}
	signals := 0
	switch pos.Side {
	case models.SideLong:
		if snap.RSI < 50 {
			signals++
		}
		if !snap.Supertrend.Bullish {
			signals++
		}
	case models.SideShort:
		if snap.RSI > 50 {
			signals++
		}
		if snap.Supertrend.Bullish {
			signals++
		}
	}
	if signals < 2 {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDConfluenceExit,
		Priority:   basePriority[IDConfluenceExit],
		Reason:     "RSI and Supertrend both reversed against the held side",
	}
}

// TimeBased closes a position that has been held past MaxHoldMinutes,
// avoiding indefinitely stale exposure the other strategies haven't caught.
func TimeBased(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	if cfg.MaxHoldMinutes <= 0 {
		return nil
	}
	if pctx.HoldingTime.Minutes() < float64(cfg.MaxHoldMinutes) {
		return nil
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionCloseFull,
		StrategyID: IDTimeBased,
		Priority:   basePriority[IDTimeBased],
		Reason:     fmt.Sprintf("held %.0f minutes, past %d minute ceiling", pctx.HoldingTime.Minutes(), cfg.MaxHoldMinutes),
	}
}

// BreakEven moves the stop to entry once the position has moved favorably by
// half its TrailingActivationR threshold, locking in a scratch trade without
// yet committing to the full trailing distance.
func BreakEven(pos models.Position, pctx models.PositionContext, mctx models.MarketContext, bars []models.Bar, snap models.IndicatorSnapshot, acct models.Account, cfg Config) *models.ExitDecision {
	riskDist := pos.InitialRiskDistance
	if riskDist <= 0 {
		return nil
	}
	r := pctx.MFE / riskDist
	if r < cfg.TrailingActivationR/2 {
		return nil
	}
	switch pos.Side {
	case models.SideLong:
		if pos.SLPrice >= pos.EntryPrice {
			return nil
		}
	case models.SideShort:
		if pos.SLPrice != 0 && pos.SLPrice <= pos.EntryPrice {
			return nil
		}
	}
	return &models.ExitDecision{
		TicketID:   pos.TicketID,
		Action:     models.ExitActionModify,
		NewSL:      pos.EntryPrice,
		NewTP:      pos.TPPrice,
		StrategyID: IDBreakEven,
		Priority:   basePriority[IDBreakEven],
		Reason:     fmt.Sprintf("moved stop to break-even at %.2fR", r),
	}
}
