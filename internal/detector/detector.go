package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ravenhall-io/coresentry/internal/config"
	"github.com/ravenhall-io/coresentry/pkg/metric"
	"github.com/ravenhall-io/coresentry/pkg/plugin"
	"go.uber.org/zap"
)

// Batch maps host IDs to their sampled metrics for one collection round.
// Every metric map in a batch must carry the same key set, with the type's
// neutral element standing in for "no activity on this metric this round",
// and the reserved Activity metric present as 0 or 1.
type Batch map[string]metric.Map

// Detector is the decision core: it maintains per-host sample windows,
// compares population-relative deviations against configured thresholds,
// and drives the flag/deflag hysteresis that starts and stops mitigation.
//
// Batch processing is serialized by a single mutex; the active
// configuration is read once per batch from an atomic pointer, so a reload
// landing mid-batch takes effect on the next batch, never partially.
type Detector struct {
	logger *zap.Logger
	bus    plugin.Publisher
	hyst   *Hysteresis

	cfg atomic.Pointer[config.Config]

	mu    sync.Mutex
	hosts map[string]*HostState
}

// NewDetector creates a detector with the given initial configuration.
func NewDetector(cfg *config.Config, bus plugin.Publisher, logger *zap.Logger) *Detector {
	d := &Detector{
		logger: logger,
		bus:    bus,
		hyst:   NewHysteresis(logger),
		hosts:  make(map[string]*HostState),
	}
	d.cfg.Store(cfg)
	return d
}

// ApplyConfig atomically replaces the active configuration. The next batch
// sees the new snapshot in full; a batch already in flight completes
// against the snapshot it started with.
func (d *Detector) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	d.cfg.Store(cfg)
	d.logger.Info("detector configuration replaced",
		zap.String("version", cfg.Version),
		zap.Bool("mitigation_enabled", cfg.MitigationEnabled),
		zap.Int("max_samples", cfg.MaxSamples),
	)
}

// Config returns the active configuration snapshot.
func (d *Detector) Config() *config.Config {
	return d.cfg.Load()
}

// Mitigating returns the IDs of hosts currently under mitigation, sorted.
func (d *Detector) Mitigating() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for id, h := range d.hosts {
		if h.mitigating {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// HostCount returns the number of hosts ever observed.
func (d *Detector) HostCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.hosts)
}

// ProcessBatch ingests one sample batch: it validates the batch as a whole,
// pushes each host's sample into its window, recomputes population
// statistics over the included hosts, steps the hysteresis machine per
// host, and synchronously emits one mitigation event per transition.
//
// A batch that fails validation is rejected before any host state mutates.
func (d *Detector) ProcessBatch(ctx context.Context, batch Batch) error {
	cfg := d.cfg.Load()

	if err := validateBatch(cfg, batch); err != nil {
		reason := "invalid"
		if isConfigurationMismatch(err) {
			reason = "mismatch"
		}
		batchesRejectedTotal.WithLabelValues(reason).Inc()
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	batchesTotal.Inc()

	for _, id := range sortedBatchIDs(batch) {
		h, ok := d.hosts[id]
		if !ok {
			h = newHostState(cfg.MaxSamples)
			d.hosts[id] = h
			d.logger.Debug("tracking new host", zap.String("host_id", id))
		}
		h.push(batch[id], cfg)
		d.hyst.UpdateInclusion(id, h, cfg)
	}

	averages := populationAverages(d.hosts, cfg)

	// Every known host is evaluated each batch, not just the hosts the
	// batch mentions; a host that stops reporting keeps its window and
	// its verdicts until exclusion catches up with it.
	if cfg.MitigationEnabled {
		for _, id := range sortedHostIDs(d.hosts) {
			h := d.hosts[id]
			if !h.included {
				continue
			}
			over := overThreshold(h, averages, cfg)
			switch d.hyst.Step(id, h, over, cfg) {
			case DecisionStart:
				mitigationStartsTotal.Inc()
				d.logger.Info("initiating mitigation", zap.String("host_id", id))
				d.emit(ctx, cfg.Events.StartMitigation, id)
			case DecisionStop:
				mitigationStopsTotal.Inc()
				d.logger.Info("stopping mitigation", zap.String("host_id", id))
				d.emit(ctx, cfg.Events.StopMitigation, id)
			}
		}
	}

	d.updateGauges()
	return nil
}

func (d *Detector) emit(ctx context.Context, topic, hostID string) {
	if d.bus == nil {
		return
	}
	_ = d.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "detector",
		Timestamp: time.Now().UTC(),
		Payload:   hostID,
	})
}

func (d *Detector) updateGauges() {
	var included, mitigating int
	for _, h := range d.hosts {
		if h.included {
			included++
		}
		if h.mitigating {
			mitigating++
		}
	}
	hostsTracked.Set(float64(len(d.hosts)))
	hostsIncluded.Set(float64(included))
	hostsMitigating.Set(float64(mitigating))
}

// validateBatch enforces the all-or-nothing batch contract: every host map
// carries the same metric key set, the Activity metric is present and 0/1,
// no value is nil, and (while mitigation is enabled) every reported metric
// has a threshold configured.
func validateBatch(cfg *config.Config, batch Batch) error {
	ids := sortedBatchIDs(batch)

	var refID string
	var refNames []string
	for _, id := range ids {
		sample := batch[id]
		av, ok := sample[metric.Activity]
		if !ok {
			return fmt.Errorf("%w: host %q is missing the mandatory %s metric",
				ErrInvalidSampleBatch, id, metric.Activity)
		}
		if av == nil {
			return fmt.Errorf("%w: host %q has a nil %s value",
				ErrInvalidSampleBatch, id, metric.Activity)
		}
		if f, ok := av.(metric.Float); ok && f != 0 && f != 1 {
			return fmt.Errorf("%w: host %q reports %s=%v, must be 0 or 1",
				ErrInvalidSampleBatch, id, metric.Activity, f)
		}

		names := sample.Names()
		for _, name := range names {
			if sample[name] == nil {
				return fmt.Errorf("%w: host %q has a nil value for metric %q",
					ErrInvalidSampleBatch, id, name)
			}
		}

		if refNames == nil {
			refID, refNames = id, names
			continue
		}
		if !equalNames(refNames, names) {
			return fmt.Errorf("%w: hosts %q and %q report different metric sets",
				ErrInvalidSampleBatch, refID, id)
		}
	}

	if cfg.MitigationEnabled {
		for _, name := range refNames {
			if name == metric.Activity {
				continue
			}
			if _, ok := cfg.Threshold(name); !ok {
				return fmt.Errorf("%w: metric %q has no configured threshold",
					ErrConfigurationMismatch, name)
			}
		}
	}
	return nil
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedBatchIDs(batch Batch) []string {
	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
