package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_CreatesFileWithOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAcquire_RefusesWhenHeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(path)
	require.Error(t, err)
	var liveErr *ErrHeldByLiveProcess
	assert.ErrorAs(t, err, &liveErr)
	assert.Equal(t, os.Getpid(), liveErr.PID)
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.pid")

	// PID 999999 is vanishingly unlikely to be a live process on any test
	// runner, simulating a lock file left behind by a crashed instance.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o600))

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAcquire_ReclaimsCorruptLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()
}

func TestRelease_RemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.pid")
	lock, err := Acquire(path)
	require.NoError(t, err)

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Releasing again must not error.
	assert.NoError(t, lock.Release())
}
