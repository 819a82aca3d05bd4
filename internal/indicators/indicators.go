// Package indicators computes technical indicators from a price series.
// Every function is pure: given the same bars it always returns the same
// value, and none retains state between calls. The engine recomputes every
// indicator fresh each cycle rather than maintaining incremental state,
// trading a little CPU for an implementation with no staleness bugs.
//
// No third-party indicator library is wired here: none of the pack's
// example repos import one (they either trade without technical indicators
// at all, like the teacher's options strategy, or compute IV/greeks through
// their broker's API), so this package is grounded on the math directly
// rather than on any example's indicator code, using only stdlib math.
package indicators

import (
	"math"

	"cthuluengine/internal/models"
)

// SMA returns the simple moving average of the last period closes. It
// returns false if there are fewer than period bars.
func SMA(bars []models.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return 0, false
	}
	var sum float64
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period), true
}

// EMA returns the exponential moving average series seeded by an SMA of the
// first period closes, one value per bar from index period-1 onward.
func EMA(bars []models.Bar, period int) []float64 {
	if period <= 0 || len(bars) < period {
		return nil
	}
	out := make([]float64, len(bars))
	seed, _ := SMA(bars[:period], period)
	out[period-1] = seed
	k := 2.0 / float64(period+1)
	for i := period; i < len(bars); i++ {
		out[i] = bars[i].Close*k + out[i-1]*(1-k)
	}
	return out
}

// LastEMA returns only the most recent EMA value.
func LastEMA(bars []models.Bar, period int) (float64, bool) {
	series := EMA(bars, period)
	if series == nil {
		return 0, false
	}
	return series[len(series)-1], true
}

// RSI computes the Wilder relative strength index over period bars, bounded
// to [0, 100] by construction.
func RSI(bars []models.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	var gainSum, lossSum float64
	for i := len(bars) - period; i < len(bars); i++ {
		delta := bars[i].Close - bars[i-1].Close
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	if rsi < 0 {
		rsi = 0
	}
	if rsi > 100 {
		rsi = 100
	}
	return rsi, true
}

// TrueRange returns the true range of bar i relative to the prior close.
// For i == 0 it degrades to high-low.
func TrueRange(bars []models.Bar, i int) float64 {
	hl := bars[i].High - bars[i].Low
	if i == 0 {
		return hl
	}
	hc := absf(bars[i].High - bars[i-1].Close)
	lc := absf(bars[i].Low - bars[i-1].Close)
	return maxf(hl, maxf(hc, lc))
}

// ATR computes Wilder's average true range over period bars, non-negative
// by construction since every TrueRange term is non-negative.
func ATR(bars []models.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	var sum float64
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars, i)
	}
	return sum / float64(period), true
}

// MACD computes the standard 12/26/9 (or caller-specified) moving average
// convergence-divergence triple: the MACD line, its signal line, and their
// difference (the histogram).
func MACD(bars []models.Bar, fast, slow, signal int) (models.MACDValue, bool) {
	if len(bars) < slow+signal {
		return models.MACDValue{}, false
	}
	fastEMA := EMA(bars, fast)
	slowEMA := EMA(bars, slow)
	if fastEMA == nil || slowEMA == nil {
		return models.MACDValue{}, false
	}
	macdLine := make([]float64, len(bars))
	for i := slow - 1; i < len(bars); i++ {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}

	// EMA of the MACD line itself, seeded by an SMA over its first `signal`
	// defined values (starting at index slow-1).
	start := slow - 1
	var seedSum float64
	for i := start; i < start+signal; i++ {
		seedSum += macdLine[i]
	}
	signalLine := make([]float64, len(bars))
	signalLine[start+signal-1] = seedSum / float64(signal)
	k := 2.0 / float64(signal+1)
	for i := start + signal; i < len(bars); i++ {
		signalLine[i] = macdLine[i]*k + signalLine[i-1]*(1-k)
	}

	last := len(bars) - 1
	return models.MACDValue{
		Line:      macdLine[last],
		Signal:    signalLine[last],
		Histogram: macdLine[last] - signalLine[last],
	}, true
}

// Bollinger computes Bollinger Bands: an SMA midline plus/minus numStd
// standard deviations of the same window.
func Bollinger(bars []models.Bar, period int, numStd float64) (models.BollingerValue, bool) {
	mid, ok := SMA(bars, period)
	if !ok {
		return models.BollingerValue{}, false
	}
	window := bars[len(bars)-period:]
	var sumSq float64
	for _, b := range window {
		d := b.Close - mid
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(period))
	return models.BollingerValue{
		Middle: mid,
		Upper:  mid + numStd*stddev,
		Lower:  mid - numStd*stddev,
	}, true
}

// Stochastic computes the %K/%D stochastic oscillator over period bars,
// bounded to [0, 100] by construction since %K is a ratio of in-range
// distances.
func Stochastic(bars []models.Bar, period, smoothD int) (models.StochasticValue, bool) {
	if len(bars) < period+smoothD {
		return models.StochasticValue{}, false
	}
	kValues := make([]float64, len(bars))
	for i := period - 1; i < len(bars); i++ {
		window := bars[i-period+1 : i+1]
		hi, lo := window[0].High, window[0].Low
		for _, b := range window {
			hi = maxf(hi, b.High)
			lo = minf(lo, b.Low)
		}
		if hi == lo {
			kValues[i] = 50
			continue
		}
		kValues[i] = 100 * (bars[i].Close - lo) / (hi - lo)
	}
	last := len(bars) - 1
	var dSum float64
	for i := last - smoothD + 1; i <= last; i++ {
		dSum += kValues[i]
	}
	return models.StochasticValue{K: kValues[last], D: dSum / float64(smoothD)}, true
}

// ADX computes the Wilder average directional index over period bars,
// bounded to [0, 100].
func ADX(bars []models.Bar, period int) (float64, bool) {
	need := 2*period + 1
	if len(bars) < need {
		return 0, false
	}
	start := len(bars) - need
	window := bars[start:]

	plusDM := make([]float64, len(window))
	minusDM := make([]float64, len(window))
	tr := make([]float64, len(window))
	for i := 1; i < len(window); i++ {
		upMove := window[i].High - window[i-1].High
		downMove := window[i-1].Low - window[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = TrueRange(window, i)
	}

	smooth := func(series []float64) []float64 {
		out := make([]float64, len(series))
		var sum float64
		for i := 1; i <= period; i++ {
			sum += series[i]
		}
		out[period] = sum
		for i := period + 1; i < len(series); i++ {
			out[i] = out[i-1] - out[i-1]/float64(period) + series[i]
		}
		return out
	}
	smoothTR := smooth(tr)
	smoothPlusDM := smooth(plusDM)
	smoothMinusDM := smooth(minusDM)

	dx := make([]float64, len(window))
	for i := period; i < len(window); i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI := 100 * smoothMinusDM[i] / smoothTR[i]
		denom := plusDI + minusDI
		if denom == 0 {
			continue
		}
		dx[i] = 100 * absf(plusDI-minusDI) / denom
	}

	var dxSum float64
	count := 0
	for i := period; i < 2*period && i < len(dx); i++ {
		dxSum += dx[i]
		count++
	}
	if count == 0 {
		return 0, false
	}
	return dxSum / float64(count), true
}

// Supertrend computes the Supertrend trend-following overlay, walking the
// whole supplied window so it can report the bar index of the most recent
// trend flip (-1 if the side never flipped within the window).
func Supertrend(bars []models.Bar, period int, multiplier float64) (models.SupertrendValue, bool) {
	if len(bars) < period+1 {
		return models.SupertrendValue{}, false
	}
	start := period
	var bullish bool
	var value float64
	flippedAt := -1
	for i := start; i < len(bars); i++ {
		window := bars[:i+1]
		atr, ok := ATR(window, period)
		if !ok {
			continue
		}
		mid := (bars[i].High + bars[i].Low) / 2
		upperBand := mid + multiplier*atr
		lowerBand := mid - multiplier*atr
		newBullish := bars[i].Close >= mid
		if i == start {
			bullish = newBullish
		} else if newBullish != bullish {
			bullish = newBullish
			flippedAt = i
		}
		if bullish {
			value = lowerBand
		} else {
			value = upperBand
		}
	}
	return models.SupertrendValue{Value: value, Bullish: bullish, FlippedAt: flippedAt}, true
}

// VWAP computes the volume-weighted average price over the full supplied
// window (callers pass the session's bars to reset it daily).
func VWAP(bars []models.Bar) (float64, bool) {
	if len(bars) == 0 {
		return 0, false
	}
	var pv, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return 0, false
	}
	return pv / vol, true
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
