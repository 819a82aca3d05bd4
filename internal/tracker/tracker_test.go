package tracker

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cthuluengine/internal/broker"
	"cthuluengine/internal/models"
)

func newTestTracker() *PositionTracker {
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	return New(7, logger)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSync_UnknownBrokerPositionSurfacedForAdoption(t *testing.T) {
	tr := newTestTracker()
	result := tr.Sync([]broker.PositionInfo{
		{TicketID: 1, Symbol: "EURUSD", MagicNumber: 7, EntryPrice: 1.1},
	}, nil, time.Now())

	require.Len(t, result.Unknown, 1)
	assert.Equal(t, int64(1), result.Unknown[0].TicketID)
	assert.Empty(t, result.Updated)
	assert.Empty(t, result.Closed)
}

func TestSync_UpdatesKnownPositionAndAdvancesExcursion(t *testing.T) {
	tr := newTestTracker()
	tr.Adopt(models.Position{
		TicketID:           1,
		Symbol:             "EURUSD",
		Side:               models.SideLong,
		EntryPrice:         1.1000,
		PeakFavorablePrice: 1.1000,
		PeakAdversePrice:   1.1000,
		MagicNumber:        7,
	})

	result := tr.Sync([]broker.PositionInfo{
		{TicketID: 1, Symbol: "EURUSD", MagicNumber: 7, CurrentPnL: 50},
	}, map[string]float64{"EURUSD": 1.1050}, time.Now())

	require.Len(t, result.Updated, 1)
	assert.Equal(t, 50.0, result.Updated[0].UnrealizedPnL)
	assert.InDelta(t, 1.1050, result.Updated[0].PeakFavorablePrice, 1e-9)

	p, ok := tr.Get(1)
	require.True(t, ok)
	assert.InDelta(t, 1.1050, p.PeakFavorablePrice, 1e-9)
}

func TestSync_EvictsClosedPosition(t *testing.T) {
	tr := newTestTracker()
	tr.Adopt(models.Position{TicketID: 1, Symbol: "EURUSD", MagicNumber: 7, UnrealizedPnL: 20})

	result := tr.Sync(nil, nil, time.Now())
	require.Len(t, result.Closed, 1)
	assert.Equal(t, 20.0, result.Closed[0].RealizedPnL)

	_, ok := tr.Get(1)
	assert.False(t, ok)
}

func TestSync_IgnoresPositionsWithDifferentMagicNumber(t *testing.T) {
	tr := newTestTracker()
	result := tr.Sync([]broker.PositionInfo{
		{TicketID: 1, Symbol: "EURUSD", MagicNumber: 999},
	}, nil, time.Now())
	assert.Empty(t, result.Unknown)
	assert.Empty(t, result.Updated)
}

func TestSync_NeverProducesDuplicateTicketIDs(t *testing.T) {
	tr := newTestTracker()
	tr.Adopt(models.Position{TicketID: 1, Symbol: "EURUSD", MagicNumber: 7})

	tr.Sync([]broker.PositionInfo{
		{TicketID: 1, Symbol: "EURUSD", MagicNumber: 7},
	}, nil, time.Now())

	snapshot := tr.Snapshot()
	seen := make(map[int64]bool)
	for _, p := range snapshot {
		assert.False(t, seen[p.TicketID], "duplicate ticket id in tracker snapshot")
		seen[p.TicketID] = true
	}
}

func TestExcursionMonotonicAcrossMultipleSyncs(t *testing.T) {
	tr := newTestTracker()
	tr.Adopt(models.Position{
		TicketID:           1,
		Symbol:             "EURUSD",
		Side:               models.SideLong,
		EntryPrice:         1.10,
		PeakFavorablePrice: 1.10,
		PeakAdversePrice:   1.10,
		MagicNumber:        7,
	})

	prices := []float64{1.105, 1.103, 1.108, 1.101}
	for _, price := range prices {
		tr.Sync([]broker.PositionInfo{{TicketID: 1, Symbol: "EURUSD", MagicNumber: 7}}, map[string]float64{"EURUSD": price}, time.Now())
	}

	p, _ := tr.Get(1)
	assert.InDelta(t, 1.108, p.PeakFavorablePrice, 1e-9)
	assert.InDelta(t, 1.101, p.PeakAdversePrice, 1e-9)
}
