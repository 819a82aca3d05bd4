// Package adoption brings broker positions the engine did not open under
// management, synthesizing emergency stops from ATR the way a human trader
// would if they found an unmanaged position on the account. It generalizes
// the teacher's recoverUntrackedPositions/createRecoveredPosition pair: the
// teacher had to regroup option legs into strangle pairs by parsing OSI
// symbols before it could treat anything as "one position"; an MT5 ticket
// already names exactly one position, so adoption here works ticket by
// ticket with no grouping step.
package adoption

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cthuluengine/internal/broker"
	"cthuluengine/internal/indicators"
	"cthuluengine/internal/models"
)

// Config bounds TradeAdoption's emergency-stop synthesis, per spec.md §4.6.
type Config struct {
	Timeframe          string // stable timeframe pulled for ATR, default H1
	BarsRequested      int    // default 100
	ATRPeriod          int    // default 14
	EmergencySLATRMult float64
	EmergencyTPATRMult float64
	FallbackPoints     float64 // used when ATR is not computable
	MaxAdoptAge        time.Duration
	UseATRBasedSLTP    bool // false skips ATR and always applies FallbackPoints
}

// DefaultConfig mirrors spec.md §4.6's named defaults.
func DefaultConfig() Config {
	return Config{
		Timeframe:          "H1",
		BarsRequested:      100,
		ATRPeriod:          14,
		EmergencySLATRMult: 2.0,
		EmergencyTPATRMult: 4.0,
		FallbackPoints:     200,
		MaxAdoptAge:        24 * time.Hour,
		UseATRBasedSLTP:    true,
	}
}

// TradeAdoption adopts unmanaged broker positions.
type TradeAdoption struct {
	broker broker.Broker
	cfg    Config
	log    *logrus.Entry
}

// New builds a TradeAdoption over br.
func New(br broker.Broker, cfg Config, log *logrus.Logger) *TradeAdoption {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TradeAdoption{broker: br, cfg: cfg, log: log.WithField("component", "adoption")}
}

// Adopt synthesizes emergency stops for pos and issues the modify_position
// call, returning the fully adopted Position on success. pos.EntryTime
// (Unix seconds) must already be populated from the broker snapshot so the age check in
// step 6 of spec.md §4.6 can run.
func (a *TradeAdoption) Adopt(ctx context.Context, pos broker.PositionInfo, now time.Time) (*models.Position, error) {
	age := now.UTC().Sub(time.Unix(pos.EntryTime, 0).UTC())
	if a.cfg.MaxAdoptAge > 0 && age > a.cfg.MaxAdoptAge {
		a.log.WithField("ticket", pos.TicketID).WithField("age", age).Warn("refusing adoption: position older than max_adopt_age")
		return nil, fmt.Errorf("adoption: ticket %d age %s exceeds max_adopt_age %s", pos.TicketID, age, a.cfg.MaxAdoptAge)
	}

	side := models.SideLong
	if pos.Side == string(models.SideShort) {
		side = models.SideShort
	}

	point := 0.0001
	if sym, err := a.broker.SymbolInfo(ctx, pos.Symbol); err == nil && sym.Point > 0 {
		point = sym.Point
	}
	sl, tp, degraded := a.synthesizeStops(ctx, pos.Symbol, pos.EntryPrice, side, point)

	if err := a.broker.ModifyPosition(ctx, broker.ModifyRequest{TicketID: pos.TicketID, SL: sl, TP: tp}); err != nil {
		return nil, fmt.Errorf("adoption: modify ticket %d: %w", pos.TicketID, err)
	}

	riskDistance := sl - pos.EntryPrice
	if riskDistance < 0 {
		riskDistance = -riskDistance
	}

	adopted := &models.Position{
		TicketID:            pos.TicketID,
		Symbol:              pos.Symbol,
		Side:                side,
		LotSize:             pos.Lot,
		EntryPrice:          pos.EntryPrice,
		EntryTimeUTC:        time.Unix(pos.EntryTime, 0).UTC(),
		SLPrice:             sl,
		TPPrice:             tp,
		InitialRiskDistance: riskDistance,
		OpenedBy:            models.OpenedByAdopted,
		MagicNumber:         pos.MagicNumber,
	}
	adopted.PeakFavorablePrice = pos.EntryPrice
	adopted.PeakAdversePrice = pos.EntryPrice

	fields := logrus.Fields{"ticket": pos.TicketID, "sl": sl, "tp": tp}
	if degraded {
		fields["degraded"] = true
		a.log.WithFields(fields).Warn("adopted position using fallback fixed-points stops: ATR unavailable")
	} else {
		a.log.WithFields(fields).Info("adopted position with ATR-derived emergency stops")
	}
	return adopted, nil
}

// synthesizeStops computes emergency SL/TP from ATR(period) on the last
// BarsRequested bars, falling back to a fixed-points distance (logged as
// degraded) if ATR cannot be computed.
func (a *TradeAdoption) synthesizeStops(ctx context.Context, symbol string, entry float64, side models.Side, point float64) (sl, tp float64, degraded bool) {
	if !a.cfg.UseATRBasedSLTP {
		return fallbackStops(entry, side, a.cfg.FallbackPoints*point)
	}
	bars, err := a.broker.Rates(ctx, symbol, a.cfg.Timeframe, a.cfg.BarsRequested)
	if err != nil || len(bars) < a.cfg.ATRPeriod+1 {
		return fallbackStops(entry, side, a.cfg.FallbackPoints*point)
	}

	modelBars := make([]models.Bar, len(bars))
	for i, b := range bars {
		modelBars[i] = models.Bar{
			OpenTime: b.OpenTime(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		}
	}

	atr, ok := indicators.ATR(modelBars, a.cfg.ATRPeriod)
	if !ok || atr <= 0 {
		return fallbackStops(entry, side, a.cfg.FallbackPoints*point)
	}

	switch side {
	case models.SideLong:
		sl = entry - a.cfg.EmergencySLATRMult*atr
		tp = entry + a.cfg.EmergencyTPATRMult*atr
	case models.SideShort:
		sl = entry + a.cfg.EmergencySLATRMult*atr
		tp = entry - a.cfg.EmergencyTPATRMult*atr
	}
	return sl, tp, false
}

// fallbackStops applies a fixed price distance (already converted from
// FallbackPoints via the symbol's point size) when ATR cannot be computed.
func fallbackStops(entry float64, side models.Side, distance float64) (sl, tp float64, degraded bool) {
	switch side {
	case models.SideLong:
		sl = entry - distance
		tp = entry + 2*distance
	case models.SideShort:
		sl = entry + distance
		tp = entry - 2*distance
	}
	return sl, tp, true
}
