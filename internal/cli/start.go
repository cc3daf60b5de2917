package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nandika/steward/internal/config"
	"github.com/nandika/steward/internal/daemon"
	"github.com/nandika/steward/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Steward daemon service",
	Long: `Start the Steward daemon service in the foreground.
The daemon maintains the agent session pool, routes tasks, and runs
periodic maintenance until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := filepath.Join(cfg.DataDir, "steward.pid")
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Println("Steward daemon started")
	d.Wait()

	return nil
}

func getPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/steward.pid"
	}
	return filepath.Join(home, ".steward", "steward.pid")
}

func isRunning(pidFile string) bool {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return false
	}

	// Read PID and check if process exists
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false
	}

	var pid int
	_, err = fmt.Sscanf(string(data), "%d", &pid)
	if err != nil {
		return false
	}

	// Check if process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
