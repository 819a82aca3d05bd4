package engine

import (
	"math"
	"time"

	"cthuluengine/internal/broker"
	"cthuluengine/internal/models"
)

// deriveMarketContext builds the cycle's MarketContext from the freshly
// computed indicator snapshot, symbol metadata, and the bar series the
// snapshot was computed from. No economic calendar feed is wired in this
// engine (spec.md names no calendar source), so NearNewsEvent is always
// false; NearMarketClose follows the "Friday last hour for FX" heuristic
// spec.md §4.8's SessionClose description names explicitly.
func deriveMarketContext(snap models.IndicatorSnapshot, sym broker.SymbolInfo, bars []models.Bar, now time.Time) models.MarketContext {
	mctx := models.MarketContext{
		SpreadPips:    sym.Spread,
		TrendStrength: snap.ADX,
		Session:       sessionFor(now),
		NearNewsEvent: false,
		Volume:        snap.AvgVolume,
	}

	var lastClose float64
	if n := len(bars); n > 0 {
		lastClose = bars[n-1].Close
		if n >= 2 {
			mctx.LastBarGap = math.Abs(bars[n-1].Open - bars[n-2].Close)
		}
	}

	if lastClose > 0 && snap.ATR > 0 {
		ratio := snap.ATR / lastClose
		switch {
		case ratio >= 0.002:
			mctx.VolatilityLevel = models.VolatilityHigh
		case ratio <= 0.0005:
			mctx.VolatilityLevel = models.VolatilityLow
		default:
			mctx.VolatilityLevel = models.VolatilityNormal
		}
	} else {
		mctx.VolatilityLevel = models.VolatilityNormal
	}

	now = now.UTC()
	mctx.NearMarketClose = now.Weekday() == time.Friday && now.Hour() == 20

	return mctx
}

// sessionFor buckets a UTC timestamp into the trading session it falls in,
// using the conventional FX session boundaries.
func sessionFor(now time.Time) models.Session {
	h := now.UTC().Hour()
	switch {
	case h >= 0 && h < 7:
		return models.SessionAsia
	case h >= 7 && h < 15:
		return models.SessionLondon
	case h >= 15 && h < 21:
		return models.SessionNewYork
	default:
		return models.SessionClosed
	}
}
