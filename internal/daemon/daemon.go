package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/nandika/steward/internal/config"
	"github.com/nandika/steward/internal/logger"
	"github.com/nandika/steward/internal/observability"
	"github.com/nandika/steward/internal/tracing"
	"github.com/nandika/steward/pkg/commandqueue"
	"github.com/nandika/steward/pkg/guardian"
	"github.com/nandika/steward/pkg/mailbox"
	"github.com/nandika/steward/pkg/maintenance"
	"github.com/nandika/steward/pkg/modelsvc"
	"github.com/nandika/steward/pkg/pool"
	"github.com/nandika/steward/pkg/strategist"
	"github.com/nandika/steward/pkg/transcript"
)

// Daemon is the steward daemon service. It owns every subsystem and
// wires them together; nothing in the process holds ambient state.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	queue       *commandqueue.CommandQueue
	transcripts *transcript.Store
	modelClient *modelsvc.Client
	agentPool   *pool.Pool

	// Services
	mailboxStore *mailbox.Store
	mailbox      *mailbox.Mailbox
	learner      *strategist.Learner
	router       *strategist.Router
	guardianMgr  *guardian.Manager
	maintSvc     *maintenance.Service

	// Internal
	lifecycle *LifecycleManager
	watcher   *ConfigWatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("steward-daemon"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds the model/session substrate
func (d *Daemon) initializeCoreModules() error {
	d.queue = commandqueue.New()
	d.logger.Info().Msg("Command queue initialized")

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	transcripts, err := transcript.NewStore(d.config.Transcripts.Dir)
	if err != nil {
		return fmt.Errorf("failed to create transcript store: %w", err)
	}
	d.transcripts = transcripts
	d.logger.Info().Msg("Transcript store initialized")

	client, err := modelsvc.NewClientFromConfig(d.config.Model, transcripts)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	d.modelClient = client
	d.logger.Info().Str("provider", d.config.Model.Provider).Msg("Model client initialized")

	d.agentPool = pool.New(client, d.queue)
	d.logger.Info().Msg("Agent pool initialized")

	return nil
}

// initializeServices builds the coordination layer on top of the pool
func (d *Daemon) initializeServices() error {
	mailboxStore, err := mailbox.NewStore(d.config.Mailbox.DBPath)
	if err != nil {
		return fmt.Errorf("failed to create mailbox store: %w", err)
	}
	d.mailboxStore = mailboxStore
	d.mailbox = mailbox.New(mailboxStore, d.config.Mailbox.QuestionTimeout, d.config.Mailbox.DefaultAnswer)
	d.logger.Info().Msg("Mailbox initialized")

	learner, err := strategist.NewLearner(d.config.Learning.LogPath)
	if err != nil {
		return fmt.Errorf("failed to create strategy learner: %w", err)
	}
	d.learner = learner
	d.logger.Info().Int("records", learner.Size()).Msg("Strategy learner initialized")

	d.router = strategist.NewRouter(learner, d.agentPool, d.modelClient, d.mailbox)
	d.logger.Info().Msg("Task router initialized")

	guardianStore, err := guardian.NewFileStore(d.config.Guardian.StateDir)
	if err != nil {
		return fmt.Errorf("failed to create guardian store: %w", err)
	}
	guardianMgr, err := guardian.NewManager(d.agentPool, d.modelClient, guardianStore)
	if err != nil {
		return fmt.Errorf("failed to create guardian manager: %w", err)
	}
	d.guardianMgr = guardianMgr
	d.logger.Info().Msg("Guardian manager initialized")

	d.maintSvc = maintenance.NewService(maintenance.ServiceOptions{
		StorePath: filepath.Join(d.config.DataDir, "maintenance.json"),
		OnEvent: func(evt maintenance.Event) {
			d.logger.Debug().Str("job", evt.Job).Str("action", string(evt.Action)).Msg("Maintenance event")
		},
	})
	d.logger.Info().Msg("Maintenance service initialized")

	return nil
}

// registerMaintenanceJobs wires the periodic housekeeping
func (d *Daemon) registerMaintenanceJobs() error {
	sweeper := transcript.NewCleanup(d.transcripts, d.config.Transcripts.MaxIdleAge)

	if _, err := d.maintSvc.Register(
		"question-expiry",
		"Expire questions that outlived their answer timeout",
		maintenance.Every(time.Minute),
		func(ctx context.Context) error {
			expired := d.mailbox.ExpireStale()
			if expired > 0 {
				d.logger.Debug().Int("expired", expired).Msg("Expired stale questions")
			}
			return nil
		},
	); err != nil {
		return err
	}

	if _, err := d.maintSvc.Register(
		"transcript-sweep",
		"Prune oversized transcripts and delete idle ones",
		maintenance.Cron("0 * * * *"),
		func(ctx context.Context) error {
			return sweeper.Sweep()
		},
	); err != nil {
		return err
	}

	if _, err := d.maintSvc.Register(
		"mailbox-compact",
		"Remove processed mailbox messages past retention",
		maintenance.Cron("30 3 * * *"),
		func(ctx context.Context) error {
			removed, err := d.mailboxStore.Compact(30 * 24 * time.Hour)
			if err != nil {
				return err
			}
			if removed > 0 {
				d.logger.Debug().Int("removed", removed).Msg("Compacted mailbox messages")
			}
			return nil
		},
	); err != nil {
		return err
	}

	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Starting steward daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if _, err := d.guardianMgr.CreateGuardian(d.ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to establish guardian instance; continuing without baseline")
	} else {
		log.Info().Msg("Guardian instance established")
	}

	if err := d.registerMaintenanceJobs(); err != nil {
		return fmt.Errorf("failed to register maintenance jobs: %w", err)
	}
	log.Info().Msg("Maintenance jobs registered")

	if d.watcher == nil {
		watcher, err := NewConfigWatcher(d)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher; hot reload disabled")
		} else {
			d.watcher = watcher
			log.Info().Msg("Config watcher started")
		}
	}

	log.Info().Msg("Daemon started successfully - all core modules active")
	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Stopping steward daemon")

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close config watcher")
		}
		d.watcher = nil
	}

	if d.maintSvc != nil {
		if err := d.maintSvc.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop maintenance service")
		}
	}

	// Let in-flight tasks settle before tearing down the queue
	if d.agentPool != nil && !d.agentPool.Drain(10*time.Second) {
		log.Warn().Msg("Timeout draining in-flight tasks")
	}

	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close command queue")
		}
	}
	log.Info().Msg("Command queue stopped")

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.mailboxStore != nil {
		if err := d.mailboxStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close mailbox store")
		}
	}

	if d.transcripts != nil {
		if err := d.transcripts.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close transcript store")
		}
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit logger")
	}

	log.Info().Msg("Daemon stopped successfully")
	return nil
}

// SubmitTask routes a task through the strategist: strategy proposal,
// execution across the agent pool, and outcome evaluation.
func (d *Daemon) SubmitTask(ctx context.Context, task string) (*strategist.RoutingResult, error) {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if !running {
		return nil, fmt.Errorf("daemon is not running")
	}

	return d.router.Route(ctx, task)
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.ActiveSessions = d.agentPool.Count()
		status.StrategyRecords = d.learner.Size()
		status.PendingQuestions = len(d.mailbox.Pending())
		status.Experimental = len(d.guardianMgr.Experimental())
	}
	return status
}

// Wait blocks until an interrupt signal arrives and then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status represents daemon status
type Status struct {
	Running          bool
	Uptime           time.Duration
	StartTime        time.Time
	ActiveSessions   int
	StrategyRecords  int
	PendingQuestions int
	Experimental     int
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetPool returns the agent session pool
func (d *Daemon) GetPool() *pool.Pool {
	return d.agentPool
}

// GetMailbox returns the mailbox
func (d *Daemon) GetMailbox() *mailbox.Mailbox {
	return d.mailbox
}

// GetLearner returns the strategy learner
func (d *Daemon) GetLearner() *strategist.Learner {
	return d.learner
}

// GetRouter returns the task router
func (d *Daemon) GetRouter() *strategist.Router {
	return d.router
}

// GetGuardianManager returns the guardian manager
func (d *Daemon) GetGuardianManager() *guardian.Manager {
	return d.guardianMgr
}

// GetMaintenanceService returns the maintenance service
func (d *Daemon) GetMaintenanceService() *maintenance.Service {
	return d.maintSvc
}
