package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nandika/steward/internal/config"
	"github.com/nandika/steward/internal/daemon"
	"github.com/nandika/steward/internal/logger"
)

var routeTimeout int

var routeCmd = &cobra.Command{
	Use:   "route <task>",
	Short: "Route a single task through the strategist",
	Long: `Route one task through the full pipeline: strategy proposal from
prior learnings, execution across the agent session pool, and outcome
evaluation. The routing result is printed as JSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

func init() {
	routeCmd.Flags().IntVar(&routeTimeout, "timeout", 300, "timeout in seconds for the route")
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

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

	// Route runs against an in-process daemon; logs go to file only so
	// stdout carries just the result.
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
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
	defer func() {
		if err := d.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop daemon")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(routeTimeout)*time.Second)
	defer cancel()

	result, err := d.SubmitTask(ctx, task)
	if err != nil {
		return fmt.Errorf("routing failed: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return nil
}
