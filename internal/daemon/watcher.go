package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/nandika/steward/internal/config"
	"github.com/nandika/steward/internal/observability"
)

// reloadDebounce coalesces the editor write bursts fsnotify reports
const reloadDebounce = 500 * time.Millisecond

// ConfigWatcher hot-reloads the daemon configuration when the config
// file changes on disk. Only runtime-safe settings are applied; model
// provider and storage paths require a restart.
type ConfigWatcher struct {
	daemon     *Daemon
	watcher    *fsnotify.Watcher
	configPath string

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewConfigWatcher watches the config file's directory. Watching the
// directory rather than the file survives rename-based atomic writes.
func NewConfigWatcher(d *Daemon) (*ConfigWatcher, error) {
	configPath := config.NewLoader("").GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("could not resolve config path")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(configPath)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &ConfigWatcher{
		daemon:     d,
		watcher:    fw,
		configPath: configPath,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		w.run()
	}()

	return w, nil
}

func (w *ConfigWatcher) run() {
	log := w.daemon.logger.GetZerolog()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(log)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-w.daemon.ctx.Done():
			return
		}
	}
}

func (w *ConfigWatcher) scheduleReload(log zerolog.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, func() {
		w.reload(log)
	})
}

func (w *ConfigWatcher) reload(log zerolog.Logger) {
	cfg, err := config.Load(w.configPath)
	if err != nil {
		log.Warn().Err(err).Msg("Config reload failed, keeping current configuration")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("Reloaded config is invalid, keeping current configuration")
		return
	}

	d := w.daemon
	d.mu.Lock()
	oldLevel := d.config.Logging.Level
	d.config.Logging = cfg.Logging
	d.config.Learning.DefaultRole = cfg.Learning.DefaultRole
	d.config.Mailbox.QuestionTimeout = cfg.Mailbox.QuestionTimeout
	d.config.Mailbox.DefaultAnswer = cfg.Mailbox.DefaultAnswer
	d.config.Guardian.TestTimeout = cfg.Guardian.TestTimeout
	d.mu.Unlock()

	if oldLevel != cfg.Logging.Level {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			log.Warn().Err(err).Msg("Reloaded log level rejected")
		} else {
			log.Info().Str("level", cfg.Logging.Level).Msg("Log level updated")
		}
	}

	observability.GetAuditLogger().Record(context.Background(), observability.AuditEvent{
		Type:   "config",
		Action: "reload",
		Status: "success",
		Metadata: map[string]interface{}{
			"path": w.configPath,
		},
	})

	log.Info().Msg("Configuration reloaded")
}

// Close stops watching and releases the debounce timer
func (w *ConfigWatcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	return w.watcher.Close()
}
