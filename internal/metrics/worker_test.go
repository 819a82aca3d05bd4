package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_FlushesOnShutdown(t *testing.T) {
	dir := t.TempDir()
	cfg := WriterConfig{
		CSVPath:        filepath.Join(dir, "metrics.csv"),
		PrometheusPath: filepath.Join(dir, "metrics.prom"),
		Interval:       time.Hour, // never fires on its own within the test
	}
	w := NewWorker(New(), cfg, nil)
	w.Push(Snapshot{Balance: 777})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	csvBytes, err := os.ReadFile(cfg.CSVPath)
	require.NoError(t, err)
	assert.Contains(t, string(csvBytes), "777")

	promBytes, err := os.ReadFile(cfg.PrometheusPath)
	require.NoError(t, err)
	assert.Contains(t, string(promBytes), "cthulu_account_balance")
}

func TestWorker_PushDropsOldestWhenSaturated(t *testing.T) {
	w := &Worker{queue: make(chan Snapshot, 1)}
	w.Push(Snapshot{Balance: 1})
	w.Push(Snapshot{Balance: 2})

	select {
	case s := <-w.queue:
		assert.Equal(t, 2.0, s.Balance)
	default:
		t.Fatal("expected a queued snapshot")
	}
	assert.Equal(t, 1, w.dropped)
}
