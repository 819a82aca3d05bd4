package metrics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// WriterConfig names the two output files and the write cadence, per
// spec.md §6's metrics.{csv_path, prometheus_path, interval_seconds}.
type WriterConfig struct {
	CSVPath        string
	PrometheusPath string
	Interval       time.Duration
}

// DefaultWriterConfig returns spec.md §4.9's default 1-second cadence and
// the persisted-state layout's default paths.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		CSVPath:        "observability/comprehensive_metrics.csv",
		PrometheusPath: "observability/metrics.prom",
		Interval:       time.Second,
	}
}

// Worker is the "separate, isolated worker" of spec.md §5: a goroutine that
// drains a bounded, drop-oldest channel of Snapshots and periodically
// flushes the latest one to both output files. The engine cycle never
// blocks on metrics I/O; Push is always non-blocking.
type Worker struct {
	collector *Collector
	cfg       WriterConfig
	log       *logrus.Entry

	queue   chan Snapshot
	dropped int
}

// NewWorker builds a Worker with a bounded queue of depth 64.
func NewWorker(collector *Collector, cfg WriterConfig, log *logrus.Logger) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{
		collector: collector,
		cfg:       cfg,
		log:       log.WithField("component", "metrics"),
		queue:     make(chan Snapshot, 64),
	}
}

// Push enqueues snap without blocking, dropping the oldest queued snapshot
// if the queue is saturated per spec.md §5's "non-blocking with drop-oldest
// policy if saturated".
func (w *Worker) Push(snap Snapshot) {
	select {
	case w.queue <- snap:
	default:
		select {
		case <-w.queue:
			w.dropped++
		default:
		}
		select {
		case w.queue <- snap:
		default:
		}
	}
}

// Run drains the queue and flushes to disk at cfg.Interval until ctx is
// done. It returns after performing one final flush of whatever is left
// queued, so a graceful shutdown never silently loses the last cycle.
func (w *Worker) Run(ctx context.Context) error {
	csvOut, err := newCSVAppender(w.cfg.CSVPath)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	var latest Snapshot
	var have bool

	flush := func() {
		if !have {
			return
		}
		w.collector.Observe(latest)
		header, row := w.collector.csvRow(latest)
		if err := csvOut.append(header, row); err != nil {
			w.log.WithError(err).Warn("csv metrics append failed")
		}
		families, err := w.collector.registry.Gather()
		if err != nil {
			w.log.WithError(err).Warn("metrics gather failed")
			return
		}
		if err := writePrometheusFile(w.cfg.PrometheusPath, families); err != nil {
			w.log.WithError(err).Warn("prometheus text file write failed")
		}
		have = false
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			if w.dropped > 0 {
				w.log.WithField("dropped", w.dropped).Warn("metrics queue saturated during run")
			}
			return nil
		case snap := <-w.queue:
			latest = snap
			have = true
		case <-ticker.C:
			flush()
		}
	}
}
