package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// LifecycleManager owns the daemon's PID file
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	pidFile := filepath.Join(d.config.DataDir, "steward.pid")

	return &LifecycleManager{
		daemon:  d,
		pidFile: pidFile,
	}
}

// Start claims the PID file. If the file holds the PID of a live
// process, another daemon owns the data directory and Start fails; a
// stale file from a crashed run is overwritten.
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(l.daemon.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if pid, err := l.GetPID(); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("another daemon is already running with pid %d", pid)
	}

	if err := l.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.daemon.logger.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop releases the PID file
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	l.daemon.logger.Info().Msg("Lifecycle manager stopped")

	return nil
}

func (l *LifecycleManager) writePIDFile() error {
	content := strconv.Itoa(os.Getpid())
	return os.WriteFile(l.pidFile, []byte(content), 0644)
}

// GetUptime returns the daemon uptime
func (l *LifecycleManager) GetUptime() time.Duration {
	return l.daemon.Status().Uptime
}

// GetPID returns the daemon PID from the PID file
func (l *LifecycleManager) GetPID() (int, error) {
	data, err := os.ReadFile(l.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}

	return pid, nil
}

// IsRunning reports whether the PID file points at a live process
func (l *LifecycleManager) IsRunning() bool {
	pid, err := l.GetPID()
	if err != nil {
		return false
	}
	return processAlive(pid)
}

// processAlive probes a process with signal 0. On Unix FindProcess
// always succeeds, so the signal is the actual liveness check.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
