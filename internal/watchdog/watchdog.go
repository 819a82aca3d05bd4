// Package watchdog guards against a TradingLoop cycle that hangs forever: a
// timer reset on every completed cycle, killing the process if it is ever
// allowed to fire. It is grounded on the teacher's Bot.Run ticker+select
// idiom in cmd/bot/main.go, inverted from "do work every tick" to "do
// nothing unless a tick is reached", since a watchdog's job is to notice the
// absence of activity rather than drive it.
package watchdog

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// osExit is overridden in tests so a fired watchdog can be observed without
// killing the test binary.
var osExit = os.Exit

// Watchdog kills the process if Kick is not called at least once every
// timeout, per spec.md §8's watchdog property.
type Watchdog struct {
	timeout time.Duration
	log     *logrus.Entry
	kick    chan struct{}
}

// New builds a Watchdog with the given timeout. A timeout of 0 disables the
// watchdog entirely (Run returns immediately), matching spec.md §6's
// watchdog_timeout_seconds: 0 meaning "no watchdog".
func New(timeout time.Duration, log *logrus.Logger) *Watchdog {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watchdog{
		timeout: timeout,
		log:     log.WithField("component", "watchdog"),
		kick:    make(chan struct{}, 1),
	}
}

// Kick resets the watchdog's deadline. Non-blocking: if a kick is already
// queued and not yet consumed, this call is a no-op, since only the most
// recent kick matters.
func (w *Watchdog) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled or the timeout elapses without a Kick,
// in which case it logs and calls os.Exit(4) per spec.md §8. It is intended
// to run in its own goroutine, started once at bootstrap.
func (w *Watchdog) Run(ctx context.Context) {
	if w.timeout <= 0 {
		<-ctx.Done()
		return
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.timeout)
		case <-timer.C:
			w.log.WithField("timeout", w.timeout).Error("no cycle completed within the watchdog timeout, exiting")
			osExit(4)
			return
		}
	}
}
