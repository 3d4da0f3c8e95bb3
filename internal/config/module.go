package config

import (
	"context"
	"fmt"

	"github.com/ravenhall-io/coresentry/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin         = (*Module)(nil)
	_ plugin.HealthReporter = (*Module)(nil)
)

// Module is the configuration-watch plugin. It wraps Manager into the
// module lifecycle: Init loads the initial runtime configuration, Start
// begins the file watch, Stop joins the watcher goroutine.
type Module struct {
	logger *zap.Logger
	mgr    *Manager
}

// NewModule creates a new configuration-watch plugin instance.
func NewModule() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "confwatch",
		Version:     "0.1.0",
		Description: "Runtime configuration ownership and hot reload",
		Required:    true,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	path := deps.Config.GetString("path")
	if path == "" {
		return fmt.Errorf("confwatch: path is not configured")
	}
	debounce := deps.Config.GetDuration("debounce")

	mgr, err := NewManager(path, debounce, deps.Bus, deps.Logger)
	if err != nil {
		return fmt.Errorf("confwatch: %w", err)
	}
	m.mgr = mgr
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	if err := m.mgr.Watch(); err != nil {
		return fmt.Errorf("confwatch: %w", err)
	}
	m.logger.Info("confwatch module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.mgr != nil {
		m.mgr.Stop()
	}
	if m.logger != nil {
		m.logger.Info("confwatch module stopped")
	}
	return nil
}

// Current returns the active runtime configuration. Valid after Init.
func (m *Module) Current() *Config {
	if m.mgr == nil {
		return nil
	}
	return m.mgr.Current()
}

// Health implements plugin.HealthReporter.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.mgr == nil || m.mgr.Current() == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "no configuration loaded"}
	}
	return plugin.HealthStatus{Status: "healthy"}
}
