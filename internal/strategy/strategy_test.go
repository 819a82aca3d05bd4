package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cthuluengine/internal/models"
)

func seriesFromCloses(symbol string, closes []float64, volumes []float64) models.Series {
	bars := make([]models.Bar, len(closes))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		vol := 100.0
		if volumes != nil {
			vol = volumes[i]
		}
		bars[i] = models.Bar{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c + 0.2,
			Low:      c - 0.2,
			Close:    c,
			Volume:   vol,
		}
	}
	return models.Series{Symbol: symbol, Timeframe: "M1", Bars: bars}
}

func TestSMACross_DetectsGoldenCross(t *testing.T) {
	// A flat base then a ramp: the fast SMA should cross up through the slow.
	closes := make([]float64, 0, 40)
	for i := 0; i < 30; i++ {
		closes = append(closes, 10)
	}
	for i := 0; i < 10; i++ {
		closes = append(closes, 10+float64(i)*0.5)
	}
	series := seriesFromCloses("EURUSD", closes, nil)
	cfg := DefaultConfig()
	cfg.SMAFastPeriod = 5
	cfg.SMASlowPeriod = 20

	var sig *models.Signal
	for end := cfg.SMASlowPeriod + 1; end <= len(series.Bars); end++ {
		s := models.Series{Symbol: series.Symbol, Bars: series.Bars[:end]}
		if got := SMACross(s, models.IndicatorSnapshot{ATR: 1}, models.MarketContext{}, cfg); got != nil {
			sig = got
			break
		}
	}
	require.NotNil(t, sig)
	assert.Equal(t, models.SideLong, sig.Side)
	assert.Equal(t, IDSMACross, sig.StrategyID)
}

func TestMomentumBreakout_RequiresVolumeConfirmation(t *testing.T) {
	closes := make([]float64, 21)
	vols := make([]float64, 21)
	for i := range closes {
		closes[i] = 10
		vols[i] = 100
	}
	closes[20] = 12 // breaks the prior 20-bar high of 10.2
	vols[20] = 100  // no volume surge
	series := seriesFromCloses("EURUSD", closes, vols)
	cfg := DefaultConfig()
	cfg.BreakoutLookback = 20

	sig := MomentumBreakout(series, models.IndicatorSnapshot{}, models.MarketContext{}, cfg)
	assert.Nil(t, sig, "breakout without volume confirmation must not signal")

	vols[20] = 500
	series = seriesFromCloses("EURUSD", closes, vols)
	sig = MomentumBreakout(series, models.IndicatorSnapshot{}, models.MarketContext{}, cfg)
	require.NotNil(t, sig)
	assert.Equal(t, models.SideLong, sig.Side)
}

func TestScalping_RespectsSpreadCeiling(t *testing.T) {
	closes := make([]float64, 20)
	price := 100.0
	for i := range closes {
		price += 0.3
		closes[i] = price
	}
	series := seriesFromCloses("EURUSD", closes, nil)
	cfg := DefaultConfig()
	cfg.ATRPeriod = 14

	wide := models.MarketContext{SpreadPips: 10}
	sig := Scalping(series, models.IndicatorSnapshot{ATR: 1}, wide, cfg)
	assert.Nil(t, sig, "spread above ceiling must veto scalping entries")
}

func TestTrendFollow_RequiresADXThreshold(t *testing.T) {
	series := seriesFromCloses("EURUSD", []float64{1, 2, 3}, nil)
	cfg := DefaultConfig()

	below := TrendFollow(series, models.IndicatorSnapshot{ADX: 10}, models.MarketContext{}, cfg)
	assert.Nil(t, below)

	above := TrendFollow(series, models.IndicatorSnapshot{ADX: 30, Supertrend: models.SupertrendValue{Bullish: true}}, models.MarketContext{}, cfg)
	require.NotNil(t, above)
	assert.Equal(t, models.SideLong, above.Side)
}

func TestMeanReversion_CounterTrendOnOvershoot(t *testing.T) {
	series := seriesFromCloses("EURUSD", []float64{100, 100, 100}, nil)
	cfg := DefaultConfig()
	snap := models.IndicatorSnapshot{
		RSI:       80,
		Bollinger: models.BollingerValue{Upper: 101, Middle: 100, Lower: 99},
	}
	series.Bars[len(series.Bars)-1].Close = 103

	sig := MeanReversion(series, snap, models.MarketContext{}, cfg)
	require.NotNil(t, sig)
	assert.Equal(t, models.SideShort, sig.Side)
}

func TestSignalsAlwaysValid(t *testing.T) {
	series := seriesFromCloses("EURUSD", []float64{100, 100, 103}, nil)
	cfg := DefaultConfig()
	snap := models.IndicatorSnapshot{
		RSI:       80,
		Bollinger: models.BollingerValue{Upper: 101, Middle: 100, Lower: 99},
	}
	sig := MeanReversion(series, snap, models.MarketContext{}, cfg)
	require.NotNil(t, sig)
	assert.NoError(t, sig.Validate())
}

func TestDynamicSelector_PicksOneSignalPerSide(t *testing.T) {
	sel := NewDynamicSelector()
	cfg := DefaultConfig()
	series := seriesFromCloses("EURUSD", []float64{100, 100, 103}, nil)
	snap := models.IndicatorSnapshot{
		RSI:        80,
		ADX:        30,
		Bollinger:  models.BollingerValue{Upper: 101, Middle: 100, Lower: 99},
		Supertrend: models.SupertrendValue{Bullish: false},
	}
	mctx := models.MarketContext{TrendStrength: 30}

	out := sel.Select([]string{IDMeanReversion, IDTrendFollow}, series, snap, mctx, cfg)
	// mean_reversion signals short (overshoot above upper band), trend_follow
	// also signals short (supertrend bearish + ADX above threshold): both on
	// the same side, so only the higher-weighted one survives.
	assert.LessOrEqual(t, len(out), 1)
}

func TestDynamicSelector_DiscardsBelowMinConfidence(t *testing.T) {
	sel := NewDynamicSelector()
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.99
	// Close 101.2 overshoots the upper band by 0.2 band widths, giving
	// confidence 0.6, below the 0.99 minimum.
	series := seriesFromCloses("EURUSD", []float64{100, 100, 101.2}, nil)
	snap := models.IndicatorSnapshot{
		RSI:       80,
		Bollinger: models.BollingerValue{Upper: 101, Middle: 100, Lower: 99},
	}
	out := sel.Select([]string{IDMeanReversion}, series, snap, models.MarketContext{}, cfg)
	assert.Empty(t, out)
}

type stubAdvisor struct{ delta float64 }

func (a stubAdvisor) Advise(sig models.Signal, mctx models.MarketContext) float64 {
	return sig.Confidence + a.delta
}

func TestDynamicSelector_AdvisorIsClampedToUnitRange(t *testing.T) {
	sel := NewDynamicSelector()
	sel.Advisor = stubAdvisor{delta: 10}
	cfg := DefaultConfig()
	series := seriesFromCloses("EURUSD", []float64{100, 100, 103}, nil)
	snap := models.IndicatorSnapshot{
		RSI:       80,
		Bollinger: models.BollingerValue{Upper: 101, Middle: 100, Lower: 99},
	}
	out := sel.Select([]string{IDMeanReversion}, series, snap, models.MarketContext{}, cfg)
	require.Len(t, out, 1)
	assert.LessOrEqual(t, out[0].Confidence, 1.0)
}
