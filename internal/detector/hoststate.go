package detector

import (
	"github.com/ravenhall-io/coresentry/internal/config"
	"github.com/ravenhall-io/coresentry/pkg/metric"
)

// HostState is the per-host record the detector maintains for every host it
// has ever observed. Hosts are created on first sight and live for the
// lifetime of the detector; there is no eviction.
//
// All mutation happens under the detector's lock.
type HostState struct {
	// samples is the bounded window, oldest first. Capacity follows the
	// active configuration's MaxSamples: a shrink on reload is applied on
	// the next push, so the window never exceeds the active capacity when
	// it is read.
	samples []metric.Map

	consecutiveActive   int
	consecutiveInactive int
	included            bool

	flagCount   int
	deflagCount int
	mitigating  bool
}

func newHostState(capacity int) *HostState {
	return &HostState{samples: make([]metric.Map, 0, capacity)}
}

// push records a sample into the window, evicting the oldest entries once
// the configured capacity is reached, and updates the activity run-lengths
// from the sample's Activity metric.
func (h *HostState) push(sample metric.Map, cfg *config.Config) {
	h.samples = append(h.samples, sample.Clone())
	for len(h.samples) > cfg.MaxSamples {
		h.samples = h.samples[1:]
	}

	if v, ok := sample[metric.Activity]; ok && !v.IsZero() {
		h.consecutiveActive++
		h.consecutiveInactive = 0
	} else {
		h.consecutiveInactive++
		h.consecutiveActive = 0
	}
}

// Included reports whether the host currently participates in population
// statistics and threshold comparison.
func (h *HostState) Included() bool { return h.included }

// Mitigating reports whether mitigation is currently engaged for the host.
// This is the only externally observable decision state.
func (h *HostState) Mitigating() bool { return h.mitigating }

// WindowLen returns the number of retained samples.
func (h *HostState) WindowLen() int { return len(h.samples) }

// latest returns the most recent sample, or nil for an empty window.
func (h *HostState) latest() metric.Map {
	if len(h.samples) == 0 {
		return nil
	}
	return h.samples[len(h.samples)-1]
}

// value returns the host's comparison value for the named metric: the
// windowed average when normalization is on, the latest raw sample
// otherwise. Returns nil when the metric is absent.
func (h *HostState) value(name string, cfg *config.Config) metric.Value {
	if cfg.NormalizeSamples {
		return h.windowAverage(name)
	}
	last := h.latest()
	if last == nil {
		return nil
	}
	return last[name]
}

// windowAverage folds the named metric across the retained window. An empty
// window yields nil: the host contributes nothing until it has samples.
func (h *HostState) windowAverage(name string) metric.Value {
	vals := make([]metric.Value, 0, len(h.samples))
	for _, s := range h.samples {
		if v, ok := s[name]; ok && v != nil {
			vals = append(vals, v)
		}
	}
	return metric.Average(vals)
}
