package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ravenhall-io/coresentry/pkg/plugin"
	"go.uber.org/zap"
)

// Manager owns the active runtime Configuration. It watches the backing
// file for changes, re-parses and validates it, and on success publishes a
// reload event carrying the new snapshot. A failed parse leaves the previous
// configuration in force.
//
// The active snapshot is held behind an atomic pointer: readers see either
// the fully-old or fully-new Configuration, never a partial mix.
type Manager struct {
	path     string
	debounce time.Duration
	bus      plugin.Publisher
	logger   *zap.Logger

	current atomic.Pointer[Config]

	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager loads the configuration file at path and returns a manager
// holding it as the active snapshot. The watch does not run until Watch is
// called. A file that fails to parse at startup is a hard error: there is
// no previous configuration to fall back to.
func NewManager(path string, debounce time.Duration, bus plugin.Publisher, logger *zap.Logger) (*Manager, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving configuration path: %w", err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	m := &Manager{
		path:     abs,
		debounce: debounce,
		bus:      bus,
		logger:   logger,
		done:     make(chan struct{}),
	}

	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	logger.Info("configuration loaded",
		zap.String("path", abs),
		zap.String("version", cfg.Version),
		zap.Bool("mitigation_enabled", cfg.MitigationEnabled),
		zap.Int("thresholds", len(cfg.Thresholds)),
	)
	return m, nil
}

// Current returns the active configuration snapshot.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Watch starts the background file watch. Editors and config pushers often
// produce bursts of write events for one save, so reloads are debounced:
// the file is re-read once the burst has settled, last write wins.
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory, not the file: rename-and-replace writers
	// (atomic saves) would otherwise detach the watch.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(m.path), err)
	}
	m.watcher = w

	m.wg.Add(1)
	go m.run()
	m.logger.Info("watching configuration file", zap.String("path", m.path))
	return nil
}

// Stop terminates the watch and joins the watcher goroutine. No reload
// event is published after Stop returns.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.watcher != nil {
			_ = m.watcher.Close()
		}
		m.wg.Wait()
	})
}

func (m *Manager) run() {
	defer m.wg.Done()

	timer := time.NewTimer(m.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != m.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(m.debounce)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("configuration watcher error", zap.Error(err))
		case <-timer.C:
			m.reload(context.Background())
		}
	}
}

// reload re-reads the file and, if it parses and validates, swaps the
// active snapshot and publishes the reload event. The event is published
// under the wire name of the configuration being replaced, so subscribers
// registered against the old name always observe the swap.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.load()
	if err != nil {
		configReloadsTotal.WithLabelValues("rejected").Inc()
		m.logger.Error("configuration reload rejected, keeping previous configuration",
			zap.String("path", m.path),
			zap.Error(err),
		)
		return
	}

	old := m.current.Swap(cfg)
	configReloadsTotal.WithLabelValues("applied").Inc()
	m.logger.Info("configuration reloaded",
		zap.String("path", m.path),
		zap.String("version", cfg.Version),
		zap.Bool("mitigation_enabled", cfg.MitigationEnabled),
	)

	if m.bus != nil {
		_ = m.bus.Publish(ctx, plugin.Event{
			Topic:     old.Events.ConfigurationReloaded,
			Source:    "confwatch",
			Timestamp: time.Now().UTC(),
			Payload:   cfg,
		})
	}
}

func (m *Manager) load() (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMalformedConfiguration, m.path, err)
	}
	return Parse(data)
}
