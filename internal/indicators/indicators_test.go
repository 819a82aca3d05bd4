package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cthuluengine/internal/models"
)

func makeBars(closes []float64) []models.Bar {
	bars := make([]models.Bar, len(closes))
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = models.Bar{
			OpenTime: t.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c + 0.5,
			Low:      c - 0.5,
			Close:    c,
			Volume:   100 + float64(i),
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	bars := makeBars([]float64{1, 2, 3, 4, 5})
	v, ok := SMA(bars, 5)
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-9)

	_, ok = SMA(bars, 6)
	assert.False(t, ok)
}

func TestRSI_Bounded(t *testing.T) {
	closes := make([]float64, 30)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price += 1
		} else {
			price -= 0.5
		}
		closes[i] = price
	}
	bars := makeBars(closes)
	v, ok := RSI(bars, 14)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestRSI_AllGainsIsHundred(t *testing.T) {
	closes := []float64{}
	price := 100.0
	for i := 0; i < 20; i++ {
		price += 1
		closes = append(closes, price)
	}
	bars := makeBars(closes)
	v, ok := RSI(bars, 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
}

func TestATR_NonNegative(t *testing.T) {
	closes := []float64{10, 10.5, 9.8, 11, 10.2, 9.9, 10.7, 11.3, 10.9, 10.4, 10.1, 9.7, 10.6, 11.1, 10.3}
	bars := makeBars(closes)
	v, ok := ATR(bars, 14)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 0.0)
}

func TestMACD_RequiresEnoughBars(t *testing.T) {
	bars := makeBars(make([]float64, 10))
	_, ok := MACD(bars, 12, 26, 9)
	assert.False(t, ok)
}

func TestMACD_Computes(t *testing.T) {
	closes := make([]float64, 60)
	price := 100.0
	for i := range closes {
		price += 0.1
		closes[i] = price
	}
	bars := makeBars(closes)
	v, ok := MACD(bars, 12, 26, 9)
	require.True(t, ok)
	// Steady uptrend: fast EMA above slow EMA, positive MACD line.
	assert.Greater(t, v.Line, 0.0)
}

func TestBollinger_MiddleIsSMA(t *testing.T) {
	bars := makeBars([]float64{10, 10, 10, 10, 10})
	v, ok := Bollinger(bars, 5, 2)
	require.True(t, ok)
	assert.InDelta(t, 10.0, v.Middle, 1e-9)
	// Zero variance collapses the bands onto the midline.
	assert.InDelta(t, 10.0, v.Upper, 1e-9)
	assert.InDelta(t, 10.0, v.Lower, 1e-9)
}

func TestStochastic_Bounded(t *testing.T) {
	closes := []float64{10, 12, 9, 14, 11, 13, 8, 15, 10, 12, 9, 14, 11, 13, 8, 15, 10, 12}
	bars := makeBars(closes)
	v, ok := Stochastic(bars, 14, 3)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v.K, 0.0)
	assert.LessOrEqual(t, v.K, 100.0)
	assert.GreaterOrEqual(t, v.D, 0.0)
	assert.LessOrEqual(t, v.D, 100.0)
}

func TestADX_Bounded(t *testing.T) {
	closes := make([]float64, 40)
	price := 100.0
	for i := range closes {
		price += 0.3
		closes[i] = price
	}
	bars := makeBars(closes)
	v, ok := ADX(bars, 14)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestVWAP_WeightsByVolume(t *testing.T) {
	bars := []models.Bar{
		{High: 11, Low: 9, Close: 10, Volume: 1},
		{High: 21, Low: 19, Close: 20, Volume: 9},
	}
	v, ok := VWAP(bars)
	require.True(t, ok)
	// Heavily volume-weighted toward the second bar's ~20 typical price.
	assert.Greater(t, v, 15.0)
}

func TestSupertrend_ReportsFlip(t *testing.T) {
	closes := make([]float64, 20)
	price := 100.0
	for i := range closes {
		if i < 10 {
			price += 1
		} else {
			price -= 2
		}
		closes[i] = price
	}
	bars := makeBars(closes)
	v, ok := Supertrend(bars, 5, 3)
	require.True(t, ok)
	assert.NotNil(t, v)
}

func TestIndicatorsArePure(t *testing.T) {
	bars := makeBars([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})
	v1, _ := RSI(bars, 14)
	v2, _ := RSI(bars, 14)
	assert.Equal(t, v1, v2)
	assert.Len(t, bars, 15, "indicator computation must not mutate the input series")
}
