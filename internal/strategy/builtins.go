package strategy

import (
	"cthuluengine/internal/indicators"
	"cthuluengine/internal/models"
)

// SMACross fires when the fast SMA crosses the slow SMA between the last two
// bars. Confidence scales with how far the lines have separated relative to
// ATR, per spec.md §4.3.
func SMACross(series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) *models.Signal {
	bars := series.Bars
	if len(bars) < cfg.SMASlowPeriod+1 {
		return nil
	}
	fastNow, ok1 := indicators.SMA(bars, cfg.SMAFastPeriod)
	slowNow, ok2 := indicators.SMA(bars, cfg.SMASlowPeriod)
	fastPrev, ok3 := indicators.SMA(bars[:len(bars)-1], cfg.SMAFastPeriod)
	slowPrev, ok4 := indicators.SMA(bars[:len(bars)-1], cfg.SMASlowPeriod)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	return crossSignal(series.Symbol, IDSMACross, fastPrev, slowPrev, fastNow, slowNow, snap.ATR)
}

// EMACross is SMACross's exponential-average counterpart.
func EMACross(series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) *models.Signal {
	bars := series.Bars
	if len(bars) < cfg.EMASlowPeriod+1 {
		return nil
	}
	fastNow, ok1 := indicators.LastEMA(bars, cfg.EMAFastPeriod)
	slowNow, ok2 := indicators.LastEMA(bars, cfg.EMASlowPeriod)
	fastPrev, ok3 := indicators.LastEMA(bars[:len(bars)-1], cfg.EMAFastPeriod)
	slowPrev, ok4 := indicators.LastEMA(bars[:len(bars)-1], cfg.EMASlowPeriod)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	return crossSignal(series.Symbol, IDEMACross, fastPrev, slowPrev, fastNow, slowNow, snap.ATR)
}

// crossSignal builds a Signal from a fast/slow pair that crossed between the
// previous and current bar, or returns nil if no cross occurred.
func crossSignal(symbol, strategyID string, fastPrev, slowPrev, fastNow, slowNow, atr float64) *models.Signal {
	wasAbove := fastPrev > slowPrev
	isAbove := fastNow > slowNow
	if wasAbove == isAbove {
		return nil
	}
	side := models.SideLong
	if !isAbove {
		side = models.SideShort
	}
	gap := fastNow - slowNow
	if gap < 0 {
		gap = -gap
	}
	conf := 0.5
	if atr > 0 {
		conf = 0.5 + 0.5*minf(1, gap/atr)
	}
	return &models.Signal{
		Symbol:     symbol,
		Side:       side,
		Confidence: clamp01(conf),
		StrategyID: strategyID,
		Reason:     "moving average cross",
	}
}

// MomentumBreakout fires when the close breaks the prior N-bar extreme on
// volume at least BreakoutVolumeMult times the lookback average.
func MomentumBreakout(series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) *models.Signal {
	bars := series.Bars
	n := cfg.BreakoutLookback
	if n <= 0 || len(bars) < n+1 {
		return nil
	}
	last := bars[len(bars)-1]
	window := bars[len(bars)-1-n : len(bars)-1] // prior N bars, excluding current
	hi, lo := window[0].High, window[0].Low
	var volSum float64
	for _, b := range window {
		hi = maxf(hi, b.High)
		lo = minf(lo, b.Low)
		volSum += b.Volume
	}
	avgVol := volSum / float64(n)
	if avgVol <= 0 || last.Volume < cfg.BreakoutVolumeMult*avgVol {
		return nil
	}

	switch {
	case last.Close > hi:
		return &models.Signal{
			Symbol:     series.Symbol,
			Side:       models.SideLong,
			Confidence: clamp01(0.6 + 0.4*minf(1, (last.Volume/avgVol-cfg.BreakoutVolumeMult))),
			StrategyID: IDMomentumBreakout,
			Reason:     "breakout above prior high on volume",
		}
	case last.Close < lo:
		return &models.Signal{
			Symbol:     series.Symbol,
			Side:       models.SideShort,
			Confidence: clamp01(0.6 + 0.4*minf(1, (last.Volume/avgVol-cfg.BreakoutVolumeMult))),
			StrategyID: IDMomentumBreakout,
			Reason:     "breakdown below prior low on volume",
		}
	default:
		return nil
	}
}

// Scalping enters when RSI crosses its inner band with the spread tight
// enough to trade, using tight ATR-scaled stops.
func Scalping(series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) *models.Signal {
	if mctx.SpreadPips > cfg.ScalpMaxSpreadPips {
		return nil
	}
	bars := series.Bars
	if len(bars) < 2 || snap.ATR <= 0 {
		return nil
	}
	rsiPeriod := cfg.ATRPeriod
	rsiNow, ok1 := indicators.RSI(bars, rsiPeriod)
	rsiPrev, ok2 := indicators.RSI(bars[:len(bars)-1], rsiPeriod)
	if !ok1 || !ok2 {
		return nil
	}
	last := bars[len(bars)-1]

	switch {
	case rsiPrev <= cfg.ScalpRSILongMax && rsiNow > cfg.ScalpRSILongMax:
		return &models.Signal{
			Symbol:      series.Symbol,
			Side:        models.SideLong,
			Confidence:  clamp01(0.5 + (rsiNow-cfg.ScalpRSILongMax)/100),
			StrategyID:  IDScalping,
			SuggestedSL: last.Close - cfg.ScalpATRMultSL*snap.ATR,
			SuggestedTP: last.Close + cfg.ScalpATRMultTP*snap.ATR,
			Reason:      "RSI crossed above scalp band",
		}
	case rsiPrev >= cfg.ScalpRSIShortMin && rsiNow < cfg.ScalpRSIShortMin:
		return &models.Signal{
			Symbol:      series.Symbol,
			Side:        models.SideShort,
			Confidence:  clamp01(0.5 + (cfg.ScalpRSIShortMin-rsiNow)/100),
			StrategyID:  IDScalping,
			SuggestedSL: last.Close + cfg.ScalpATRMultSL*snap.ATR,
			SuggestedTP: last.Close - cfg.ScalpATRMultTP*snap.ATR,
			Reason:      "RSI crossed below scalp band",
		}
	default:
		return nil
	}
}

// TrendFollow only triggers in a strongly trending regime, aligned with the
// Supertrend overlay's current side.
func TrendFollow(series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) *models.Signal {
	if snap.ADX < cfg.TrendADXThreshold {
		return nil
	}
	side := models.SideShort
	if snap.Supertrend.Bullish {
		side = models.SideLong
	}
	conf := clamp01(0.5 + 0.5*minf(1, (snap.ADX-cfg.TrendADXThreshold)/50))
	return &models.Signal{
		Symbol:     series.Symbol,
		Side:       side,
		Confidence: conf,
		StrategyID: IDTrendFollow,
		Reason:     "ADX trend strength with aligned supertrend",
	}
}

// MeanReversion enters counter-trend when price closes materially outside a
// Bollinger band while RSI confirms the extreme.
func MeanReversion(series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) *models.Signal {
	bars := series.Bars
	if len(bars) == 0 || snap.Bollinger.Upper == snap.Bollinger.Lower {
		return nil
	}
	last := bars[len(bars)-1]
	bandWidth := (snap.Bollinger.Upper - snap.Bollinger.Middle)
	if bandWidth <= 0 {
		return nil
	}

	switch {
	case last.Close > snap.Bollinger.Upper && snap.RSI >= cfg.MeanReversionRSIOverbought:
		overshoot := (last.Close - snap.Bollinger.Upper) / bandWidth
		return &models.Signal{
			Symbol:     series.Symbol,
			Side:       models.SideShort,
			Confidence: clamp01(0.5 + 0.5*minf(1, overshoot)),
			StrategyID: IDMeanReversion,
			Reason:     "overbought close outside upper Bollinger band",
		}
	case last.Close < snap.Bollinger.Lower && snap.RSI <= cfg.MeanReversionRSIOversold:
		overshoot := (snap.Bollinger.Lower - last.Close) / bandWidth
		return &models.Signal{
			Symbol:     series.Symbol,
			Side:       models.SideLong,
			Confidence: clamp01(0.5 + 0.5*minf(1, overshoot)),
			StrategyID: IDMeanReversion,
			Reason:     "oversold close outside lower Bollinger band",
		}
	default:
		return nil
	}
}

// RSIReversal fires on the cross back from an overbought or oversold
// extreme, distinct from Scalping's inner-band cross.
func RSIReversal(series models.Series, snap models.IndicatorSnapshot, mctx models.MarketContext, cfg Config) *models.Signal {
	bars := series.Bars
	if len(bars) < cfg.ATRPeriod+2 {
		return nil
	}
	rsiNow, ok1 := indicators.RSI(bars, cfg.ATRPeriod)
	rsiPrev, ok2 := indicators.RSI(bars[:len(bars)-1], cfg.ATRPeriod)
	if !ok1 || !ok2 {
		return nil
	}

	switch {
	case rsiPrev >= cfg.RSIOverbought && rsiNow < cfg.RSIOverbought:
		return &models.Signal{
			Symbol:     series.Symbol,
			Side:       models.SideShort,
			Confidence: clamp01(0.5 + (rsiPrev-cfg.RSIOverbought)/100),
			StrategyID: IDRSIReversal,
			Reason:     "RSI reversed down from overbought",
		}
	case rsiPrev <= cfg.RSIOversold && rsiNow > cfg.RSIOversold:
		return &models.Signal{
			Symbol:     series.Symbol,
			Side:       models.SideLong,
			Confidence: clamp01(0.5 + (cfg.RSIOversold-rsiPrev)/100),
			StrategyID: IDRSIReversal,
			Reason:     "RSI reversed up from oversold",
		}
	default:
		return nil
	}
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
