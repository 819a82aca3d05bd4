package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withFakeExit(t *testing.T) *int32 {
	t.Helper()
	var code int32 = -1
	orig := osExit
	osExit = func(c int) { atomic.StoreInt32(&code, int32(c)) }
	t.Cleanup(func() { osExit = orig })
	return &code
}

func TestWatchdog_FiresWithoutKick(t *testing.T) {
	code := withFakeExit(t)
	w := New(20*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog.Run did not return after firing")
	}

	assert.Equal(t, int32(4), atomic.LoadInt32(code))
}

func TestWatchdog_KickPreventsExit(t *testing.T) {
	code := withFakeExit(t)
	w := New(30*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		w.Kick()
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog.Run did not return after ctx cancellation")
	}

	assert.Equal(t, int32(-1), atomic.LoadInt32(code), "repeated kicks must prevent the watchdog from firing")
}

func TestWatchdog_ZeroTimeoutDisabled(t *testing.T) {
	code := withFakeExit(t)
	w := New(0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog.Run did not return after ctx cancellation")
	}

	assert.Equal(t, int32(-1), atomic.LoadInt32(code), "a zero timeout must disable the watchdog")
}
