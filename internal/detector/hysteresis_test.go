package detector

import (
	"testing"

	"github.com/ravenhall-io/coresentry/internal/config"
	"github.com/ravenhall-io/coresentry/pkg/metric"
	"go.uber.org/zap"
)

func pushN(h *HostState, cfg *config.Config, activity float64, n int) {
	for i := 0; i < n; i++ {
		h.push(sample(activity, nil), cfg)
	}
}

func TestInclusionByRunLength(t *testing.T) {
	tests := []struct {
		name         string
		threshold    int
		activePushes int
		wantIncluded bool
	}{
		{"below_threshold", 3, 2, false},
		{"at_threshold", 3, 3, true},
		{"above_threshold", 3, 4, true},
		{"immediate", 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SamplesBeforeInclusion = tt.threshold
			hy := NewHysteresis(zap.NewNop())
			h := newHostState(cfg.MaxSamples)

			for i := 0; i < tt.activePushes; i++ {
				h.push(sample(1, nil), cfg)
				hy.UpdateInclusion("h", h, cfg)
			}
			if h.Included() != tt.wantIncluded {
				t.Errorf("included = %v after %d active samples, want %v",
					h.Included(), tt.activePushes, tt.wantIncluded)
			}
		})
	}
}

func TestInclusionFullWindowRule(t *testing.T) {
	cfg := testConfig()
	cfg.SamplesBeforeInclusion = config.FullWindow
	cfg.MaxSamples = 5
	hy := NewHysteresis(zap.NewNop())
	h := newHostState(cfg.MaxSamples)

	for i := 0; i < 4; i++ {
		h.push(sample(1, nil), cfg)
		hy.UpdateInclusion("h", h, cfg)
		if h.Included() {
			t.Fatalf("included after %d samples, full window of 5 required", i+1)
		}
	}

	h.push(sample(1, nil), cfg)
	hy.UpdateInclusion("h", h, cfg)
	if !h.Included() {
		t.Error("not included after a full window of active samples")
	}
}

func TestFullWindowRuleRequiresUnbrokenRun(t *testing.T) {
	cfg := testConfig()
	cfg.SamplesBeforeInclusion = config.FullWindow
	cfg.MaxSamples = 5
	hy := NewHysteresis(zap.NewNop())
	h := newHostState(cfg.MaxSamples)

	// One gap in the middle: window fills but the run restarts.
	pushN(h, cfg, 1, 3)
	h.push(sample(0, nil), cfg)
	pushN(h, cfg, 1, 4)
	hy.UpdateInclusion("h", h, cfg)
	if h.Included() {
		t.Error("included despite a broken activity run")
	}

	h.push(sample(1, nil), cfg)
	hy.UpdateInclusion("h", h, cfg)
	if !h.Included() {
		t.Error("not included once the run spans the full window again")
	}
}

func TestExclusionByRunLength(t *testing.T) {
	cfg := testConfig()
	cfg.SamplesBeforeInclusion = 1
	cfg.SamplesBeforeExclusion = 3
	hy := NewHysteresis(zap.NewNop())
	h := newHostState(cfg.MaxSamples)

	h.push(sample(1, nil), cfg)
	hy.UpdateInclusion("h", h, cfg)
	if !h.Included() {
		t.Fatal("precondition: host should be included")
	}

	for i := 0; i < 2; i++ {
		h.push(sample(0, nil), cfg)
		hy.UpdateInclusion("h", h, cfg)
		if !h.Included() {
			t.Fatalf("excluded after %d inactive samples, threshold is 3", i+1)
		}
	}
	h.push(sample(0, nil), cfg)
	hy.UpdateInclusion("h", h, cfg)
	if h.Included() {
		t.Error("still included after reaching the exclusion run length")
	}
}

func TestFlagAccumulationAndStart(t *testing.T) {
	cfg := testConfig() // FlagsBeforeActivation: 3
	hy := NewHysteresis(zap.NewNop())
	h := &HostState{included: true}

	if d := hy.Step("h", h, true, cfg); d != DecisionNone {
		t.Fatalf("first flag produced %v, want DecisionNone", d)
	}
	if d := hy.Step("h", h, true, cfg); d != DecisionNone {
		t.Fatalf("second flag produced %v, want DecisionNone", d)
	}
	if d := hy.Step("h", h, true, cfg); d != DecisionStart {
		t.Fatalf("third flag produced %v, want DecisionStart", d)
	}
	if !h.Mitigating() {
		t.Error("host not mitigating after DecisionStart")
	}
	if h.flagCount != 0 || h.deflagCount != 0 {
		t.Errorf("counters = %d/%d after transition, want 0/0", h.flagCount, h.deflagCount)
	}
}

func TestFlagsDoNotDecayOnCalmBatches(t *testing.T) {
	cfg := testConfig()
	hy := NewHysteresis(zap.NewNop())
	h := &HostState{included: true}

	hy.Step("h", h, true, cfg)
	hy.Step("h", h, true, cfg)
	// Calm batches move nothing while not mitigating.
	hy.Step("h", h, false, cfg)
	hy.Step("h", h, false, cfg)
	if h.flagCount != 2 {
		t.Fatalf("flagCount = %d after calm batches, want 2 (no passive decay)", h.flagCount)
	}
	if d := hy.Step("h", h, true, cfg); d != DecisionStart {
		t.Errorf("third flag produced %v, want DecisionStart", d)
	}
}

func TestDeflagAccumulationAndStop(t *testing.T) {
	cfg := testConfig() // DeflagsBeforeDeactivation: 2
	hy := NewHysteresis(zap.NewNop())
	h := &HostState{included: true, mitigating: true}

	if d := hy.Step("h", h, false, cfg); d != DecisionNone {
		t.Fatalf("first deflag produced %v, want DecisionNone", d)
	}
	if d := hy.Step("h", h, false, cfg); d != DecisionStop {
		t.Fatalf("second deflag produced %v, want DecisionStop", d)
	}
	if h.Mitigating() {
		t.Error("host still mitigating after DecisionStop")
	}
	if h.flagCount != 0 || h.deflagCount != 0 {
		t.Errorf("counters = %d/%d after transition, want 0/0", h.flagCount, h.deflagCount)
	}
}

func TestOverThresholdBatchResetsDeflags(t *testing.T) {
	cfg := testConfig()
	hy := NewHysteresis(zap.NewNop())
	h := &HostState{included: true, mitigating: true}

	hy.Step("h", h, false, cfg)
	if h.deflagCount != 1 {
		t.Fatalf("deflagCount = %d, want 1", h.deflagCount)
	}
	hy.Step("h", h, true, cfg)
	if h.deflagCount != 0 {
		t.Fatalf("deflagCount = %d after over-threshold batch, want 0", h.deflagCount)
	}
	// The reset means two more calm batches are needed.
	if d := hy.Step("h", h, false, cfg); d != DecisionNone {
		t.Errorf("got %v, want DecisionNone", d)
	}
	if d := hy.Step("h", h, false, cfg); d != DecisionStop {
		t.Errorf("got %v, want DecisionStop", d)
	}
}

func TestOverThresholdIsLogicalOr(t *testing.T) {
	cfg := testConfig()
	cfg.NormalizeSamples = false

	tests := []struct {
		name     string
		values   map[string]float64
		averages metric.Map
		want     bool
	}{
		{
			name:     "all_within_bounds",
			values:   map[string]float64{"NrConnections": 5, "NrPackets": 50},
			averages: metric.Map{"NrConnections": metric.Float(5.5), "NrPackets": metric.Float(60)},
			want:     false,
		},
		{
			name:     "single_metric_over",
			values:   map[string]float64{"NrConnections": 5, "NrPackets": 500},
			averages: metric.Map{"NrConnections": metric.Float(5.5), "NrPackets": metric.Float(60)},
			want:     true,
		},
		{
			name:     "deviation_equal_to_bound_is_not_over",
			values:   map[string]float64{"NrConnections": 6},
			averages: metric.Map{"NrConnections": metric.Float(5)},
			want:     false,
		},
		{
			name:     "metric_without_average_is_skipped",
			values:   map[string]float64{"NrConnections": 100},
			averages: metric.Map{},
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHostState(cfg.MaxSamples)
			h.push(sample(1, tt.values), cfg)
			if got := overThreshold(h, tt.averages, cfg); got != tt.want {
				t.Errorf("overThreshold() = %v, want %v", got, tt.want)
			}
		})
	}
}
