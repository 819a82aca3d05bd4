package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveSetsGauges(t *testing.T) {
	c := New()
	c.Observe(Snapshot{
		Balance:            1000,
		Equity:             1005,
		PerStrategySignals: map[string]int{"sma_cross": 2},
		PerSymbolExposure:  map[string]float64{"EURUSD": 0.3},
	})

	families, err := c.registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "cthulu_account_balance" {
			found = true
			require.Len(t, f.Metric, 1)
			assert.Equal(t, 1000.0, f.Metric[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "expected cthulu_account_balance to be registered")
}

func TestCollector_CSVRow_FlattensMapsInSortedOrder(t *testing.T) {
	c := New()
	snap := Snapshot{
		Balance:            500,
		PerStrategySignals: map[string]int{"zeta": 1, "alpha": 2},
	}
	header, row := c.csvRow(snap)

	alphaIdx, zetaIdx := -1, -1
	for i, h := range header {
		if h == "strategy_signals_alpha" {
			alphaIdx = i
		}
		if h == "strategy_signals_zeta" {
			zetaIdx = i
		}
	}
	require.NotEqual(t, -1, alphaIdx)
	require.NotEqual(t, -1, zetaIdx)
	assert.Less(t, alphaIdx, zetaIdx)
	assert.Equal(t, "2", row[alphaIdx])
	assert.Equal(t, "1", row[zetaIdx])
}

func TestCollector_ObserveCountersAccumulate(t *testing.T) {
	c := New()
	c.Observe(Snapshot{SignalsGenerated: 3})
	c.Observe(Snapshot{SignalsGenerated: 2})

	families, err := c.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "cthulu_signals_generated_total" {
			assert.Equal(t, 5.0, f.Metric[0].GetCounter().GetValue())
		}
	}
}
