package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDRoundTrip(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "test.pid"))

	require.NoError(t, d.WritePID())

	pid, err := d.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, d.RemovePID())
	pid, err = d.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, 0, pid, "missing PID file reads as zero")
}

func TestIsRunningDetectsOwnProcess(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "test.pid"))

	running, _, err := d.IsRunning()
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, d.WritePID())
	running, pid, err := d.IsRunning()
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func TestIsRunningRemovesStalePIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "test.pid")
	// PID 1 is never signalable from an unprivileged test process, so
	// writing a garbage huge PID is the reliable stale case.
	require.NoError(t, os.WriteFile(pidFile, []byte("999999999"), 0644))

	d := New(pidFile)
	running, _, err := d.IsRunning()
	require.NoError(t, err)
	assert.False(t, running)

	_, statErr := os.Stat(pidFile)
	assert.True(t, os.IsNotExist(statErr), "stale PID file must be removed")
}
