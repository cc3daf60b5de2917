package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager_PIDFile(t *testing.T) {
	d := setupTestDaemon(t)

	lm := NewLifecycleManager(d)
	require.NoError(t, lm.Start())

	pidPath := filepath.Join(d.config.DataDir, "steward.pid")
	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)

	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	got, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got)

	require.NoError(t, lm.Stop())
	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestLifecycleManager_OverwritesStalePIDFile(t *testing.T) {
	d := setupTestDaemon(t)

	pidPath := filepath.Join(d.config.DataDir, "steward.pid")
	require.NoError(t, os.MkdirAll(d.config.DataDir, 0755))
	require.NoError(t, os.WriteFile(pidPath, []byte("99999999"), 0644))

	lm := NewLifecycleManager(d)
	require.NoError(t, lm.Start())
	t.Cleanup(func() { _ = lm.Stop() })

	got, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got)
}

func TestLifecycleManager_GetPIDMissingFile(t *testing.T) {
	d := setupTestDaemon(t)

	lm := NewLifecycleManager(d)
	_, err := lm.GetPID()
	assert.Error(t, err)
}
