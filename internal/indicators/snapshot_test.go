package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cthuluengine/internal/models"
)

func genBars(n int, start float64, step float64) []models.Bar {
	bars := make([]models.Bar, n)
	price := start
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price += step
		bars[i] = models.Bar{
			OpenTime: t.Add(time.Duration(i) * time.Hour),
			Open:     price,
			High:     price + 0.5,
			Low:      price - 0.5,
			Close:    price,
			Volume:   100 + float64(i),
		}
	}
	return bars
}

func TestCompute_PopulatesFieldsOncePastWarmup(t *testing.T) {
	bars := genBars(100, 100, 0.1)
	snap := Compute(bars, DefaultConfig())

	assert.Greater(t, snap.RSI, 0.0)
	assert.Greater(t, snap.ATR, 0.0)
	assert.Greater(t, snap.EMAFast, 0.0)
	assert.Greater(t, snap.SMASlow, 0.0)
	assert.Greater(t, snap.AvgVolume, 0.0)
	assert.Greater(t, snap.PriorHighN, 0.0)
}

func TestCompute_LeavesZeroValueDuringWarmup(t *testing.T) {
	bars := genBars(5, 100, 0.1)
	snap := Compute(bars, DefaultConfig())

	assert.Equal(t, 0.0, snap.RSI)
	assert.Equal(t, 0.0, snap.ATR)
	assert.Equal(t, 0.0, snap.ADX)
}
