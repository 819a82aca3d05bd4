package indicators

import "cthuluengine/internal/models"

// Config bundles the periods TradingLoop uses to build one IndicatorSnapshot
// per cycle. Unlike strategy.Config (which tunes strategy-level thresholds),
// this only carries the window lengths each indicator function needs.
type Config struct {
	RSIPeriod int

	ATRPeriod int

	EMAFastPeriod int
	EMASlowPeriod int
	SMAFastPeriod int
	SMASlowPeriod int

	MACDFast   int
	MACDSlow   int
	MACDSignal int

	BollingerPeriod int
	BollingerNumStd float64

	StochasticPeriod  int
	StochasticSmoothD int

	ADXPeriod int

	SupertrendPeriod     int
	SupertrendMultiplier float64

	AvgVolumePeriod int
	PriorNLookback  int
}

// DefaultConfig mirrors the period defaults referenced throughout spec.md
// §4.2 and §4.3.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:            14,
		ATRPeriod:            14,
		EMAFastPeriod:        12,
		EMASlowPeriod:        26,
		SMAFastPeriod:        10,
		SMASlowPeriod:        30,
		MACDFast:             12,
		MACDSlow:             26,
		MACDSignal:           9,
		BollingerPeriod:      20,
		BollingerNumStd:      2.0,
		StochasticPeriod:     14,
		StochasticSmoothD:    3,
		ADXPeriod:            14,
		SupertrendPeriod:     10,
		SupertrendMultiplier: 3.0,
		AvgVolumePeriod:      20,
		PriorNLookback:       20,
	}
}

// Compute builds one IndicatorSnapshot from the tail of bars, per spec.md
// §4.2: every field is a pure function of bars and cfg, recomputed fresh
// each call. A field whose underlying indicator could not be computed
// (insufficient warmup bars) is left at its zero value; callers that need to
// distinguish "zero" from "not yet valid" guard on series length themselves,
// the way the strategy package's builtins already do.
func Compute(bars []models.Bar, cfg Config) models.IndicatorSnapshot {
	var snap models.IndicatorSnapshot

	if v, ok := RSI(bars, cfg.RSIPeriod); ok {
		snap.RSI = v
	}
	if v, ok := ATR(bars, cfg.ATRPeriod); ok {
		snap.ATR = v
	}
	if v, ok := LastEMA(bars, cfg.EMAFastPeriod); ok {
		snap.EMAFast = v
	}
	if v, ok := LastEMA(bars, cfg.EMASlowPeriod); ok {
		snap.EMASlow = v
	}
	if v, ok := SMA(bars, cfg.SMAFastPeriod); ok {
		snap.SMAFast = v
	}
	if v, ok := SMA(bars, cfg.SMASlowPeriod); ok {
		snap.SMASlow = v
	}
	if v, ok := MACD(bars, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal); ok {
		snap.MACD = v
	}
	if v, ok := Bollinger(bars, cfg.BollingerPeriod, cfg.BollingerNumStd); ok {
		snap.Bollinger = v
	}
	if v, ok := Stochastic(bars, cfg.StochasticPeriod, cfg.StochasticSmoothD); ok {
		snap.Stochastic = v
	}
	if v, ok := ADX(bars, cfg.ADXPeriod); ok {
		snap.ADX = v
	}
	if v, ok := Supertrend(bars, cfg.SupertrendPeriod, cfg.SupertrendMultiplier); ok {
		snap.Supertrend = v
	}
	if v, ok := VWAP(bars); ok {
		snap.VWAP = v
	}
	if n := cfg.AvgVolumePeriod; n > 0 && len(bars) >= n {
		var sum float64
		for _, b := range bars[len(bars)-n:] {
			sum += b.Volume
		}
		snap.AvgVolume = sum / float64(n)
	}
	if n := cfg.PriorNLookback; n > 0 && len(bars) > n {
		window := bars[len(bars)-1-n : len(bars)-1]
		hi, lo := window[0].High, window[0].Low
		for _, b := range window {
			hi = maxf(hi, b.High)
			lo = minf(lo, b.Low)
		}
		snap.PriorHighN = hi
		snap.PriorLowN = lo
	}

	return snap
}
