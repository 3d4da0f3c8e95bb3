package detector

import (
	"github.com/ravenhall-io/coresentry/internal/config"
	"github.com/ravenhall-io/coresentry/pkg/metric"
	"go.uber.org/zap"
)

// Decision is the outcome of one hysteresis step for one host.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionStart
	DecisionStop
)

// Hysteresis implements the inclusion/exclusion gating and the flag/deflag
// state machine. Counters move only on their trigger condition; they never
// decay passively.
type Hysteresis struct {
	logger *zap.Logger
}

func NewHysteresis(logger *zap.Logger) *Hysteresis {
	return &Hysteresis{logger: logger}
}

// UpdateInclusion applies the Excluded<->Included transitions from the
// host's activity run-lengths. With a threshold of -1 the rule demands the
// entire window: full of active samples to include, full of inactive
// samples to exclude.
func (hy *Hysteresis) UpdateInclusion(hostID string, h *HostState, cfg *config.Config) {
	if !h.included {
		if runLengthReached(h.consecutiveActive, cfg.SamplesBeforeInclusion, h, cfg) {
			h.included = true
			hy.logger.Debug("host included in population statistics",
				zap.String("host_id", hostID),
				zap.Int("consecutive_active", h.consecutiveActive),
			)
		}
		return
	}
	if runLengthReached(h.consecutiveInactive, cfg.SamplesBeforeExclusion, h, cfg) {
		h.included = false
		hy.logger.Debug("host excluded from population statistics",
			zap.String("host_id", hostID),
			zap.Int("consecutive_inactive", h.consecutiveInactive),
			zap.Bool("mitigating", h.mitigating),
		)
	}
}

func runLengthReached(run, threshold int, h *HostState, cfg *config.Config) bool {
	if threshold == config.FullWindow {
		return len(h.samples) == cfg.MaxSamples && run >= cfg.MaxSamples
	}
	return run >= threshold
}

// Step advances the flag/deflag state machine for an included host given
// this batch's over-threshold verdict. Counters reset to zero on every
// state transition; mitigation state is sticky across exclusion (an
// excluded host is simply not stepped).
func (hy *Hysteresis) Step(hostID string, h *HostState, over bool, cfg *config.Config) Decision {
	if !h.mitigating {
		if !over {
			return DecisionNone
		}
		h.flagCount++
		h.deflagCount = 0
		hy.logger.Debug("host flagged",
			zap.String("host_id", hostID),
			zap.Int("flag_count", h.flagCount),
		)
		if h.flagCount < cfg.FlagsBeforeActivation {
			return DecisionNone
		}
		h.mitigating = true
		h.flagCount = 0
		h.deflagCount = 0
		return DecisionStart
	}

	if over {
		h.deflagCount = 0
		return DecisionNone
	}
	h.deflagCount++
	hy.logger.Debug("host deflagged",
		zap.String("host_id", hostID),
		zap.Int("deflag_count", h.deflagCount),
	)
	if h.deflagCount < cfg.DeflagsBeforeDeactivation {
		return DecisionNone
	}
	h.mitigating = false
	h.flagCount = 0
	h.deflagCount = 0
	return DecisionStop
}

// overThreshold reports whether any single thresholded metric of the host
// deviates from the population average beyond its bound (logical OR across
// metrics). Metrics with no threshold or no population average are skipped.
func overThreshold(h *HostState, averages metric.Map, cfg *config.Config) bool {
	last := h.latest()
	if last == nil {
		return false
	}
	for _, name := range last.Names() {
		if name == metric.Activity {
			continue
		}
		bound, ok := cfg.Threshold(name)
		if !ok {
			continue
		}
		avg, ok := averages[name]
		if !ok || avg == nil {
			continue
		}
		v := h.value(name, cfg)
		if v == nil {
			continue
		}
		if bound.Less(v.AbsDiff(avg)) {
			return true
		}
	}
	return false
}
