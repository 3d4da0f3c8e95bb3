package detector

import (
	"context"
	"errors"
	"fmt"

	"github.com/ravenhall-io/coresentry/internal/config"
	"github.com/ravenhall-io/coresentry/pkg/metric"
	"github.com/ravenhall-io/coresentry/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin         = (*Module)(nil)
	_ plugin.HealthReporter = (*Module)(nil)
)

// ConfigSource exposes the active runtime configuration. The confwatch
// module satisfies this after its Init has run.
type ConfigSource interface {
	Current() *config.Config
}

// Module wires the Detector onto the event bus: it consumes sample batches
// from the configured sample topic and configuration snapshots from the
// reload topic, and republishes the detector's mitigation decisions.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	source ConfigSource
	det    *Detector
	unsubs []func()
}

// New creates a new detector plugin instance. SetConfigSource must be
// called before Init.
func New() *Module {
	return &Module{}
}

// SetConfigSource wires the provider of the initial runtime configuration.
func (m *Module) SetConfigSource(source ConfigSource) {
	m.source = source
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "detector",
		Version:      "0.1.0",
		Description:  "Co-residency detection and mitigation signaling",
		Dependencies: []string{"confwatch"},
		Required:     true,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	if m.source == nil {
		return fmt.Errorf("detector: no configuration source wired")
	}
	cfg := m.source.Current()
	if cfg == nil {
		return fmt.Errorf("detector: configuration source has no active configuration")
	}

	m.det = NewDetector(cfg, deps.Bus, deps.Logger)
	m.logger.Info("detector module initialized",
		zap.String("sample_topic", cfg.Events.Sample),
		zap.String("reload_topic", cfg.Events.ConfigurationReloaded),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	names := m.det.Config().Events
	m.unsubs = append(m.unsubs,
		m.bus.Subscribe(names.Sample, m.onSampleBatch),
		m.bus.Subscribe(names.ConfigurationReloaded, m.onConfigurationReloaded),
	)
	m.logger.Info("detector module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	if m.logger != nil {
		m.logger.Info("detector module stopped")
	}
	return nil
}

// Detector returns the underlying decision core.
func (m *Module) Detector() *Detector {
	return m.det
}

// Health implements plugin.HealthReporter.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.det == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "not initialized"}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// onSampleBatch is the fire-and-forget sample consumer. Rejected batches
// are surfaced through the log and the rejection counter, never swallowed
// silently and never fatal to the process.
func (m *Module) onSampleBatch(ctx context.Context, event plugin.Event) {
	var batch Batch
	switch p := event.Payload.(type) {
	case Batch:
		batch = p
	case map[string]metric.Map:
		batch = Batch(p)
	default:
		m.logger.Error("sample event carries unexpected payload type",
			zap.String("topic", event.Topic),
			zap.String("source", event.Source),
		)
		return
	}

	if err := m.det.ProcessBatch(ctx, batch); err != nil {
		switch {
		case errors.Is(err, ErrConfigurationMismatch):
			m.logger.Error("sample batch rejected: threshold configuration mismatch", zap.Error(err))
		case errors.Is(err, ErrInvalidSampleBatch):
			m.logger.Error("sample batch rejected: malformed batch", zap.Error(err))
		default:
			m.logger.Error("sample batch processing failed", zap.Error(err))
		}
	}
}

func (m *Module) onConfigurationReloaded(ctx context.Context, event plugin.Event) {
	cfg, ok := event.Payload.(*config.Config)
	if !ok {
		m.logger.Error("configuration reload event carries unexpected payload type",
			zap.String("topic", event.Topic),
			zap.String("source", event.Source),
		)
		return
	}
	m.det.ApplyConfig(cfg)
}
