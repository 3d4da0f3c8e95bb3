// Package config owns both layers of CoreSentry configuration: the static
// application config (Viper-backed, read once at startup) and the detector's
// runtime Configuration, a hot-reloadable JSON document that is parsed,
// validated, and swapped in wholesale while samples keep flowing.
package config

import (
	"errors"
	"fmt"

	"github.com/ravenhall-io/coresentry/pkg/metric"
)

// ErrMalformedConfiguration marks a runtime configuration document that is
// missing required keys or carries wrongly-typed values. The previously
// active configuration stays in force when a reload fails with it.
var ErrMalformedConfiguration = errors.New("malformed configuration")

// FullWindow is the sentinel for SamplesBeforeInclusion/SamplesBeforeExclusion
// meaning "require the entire sample window", whatever its capacity is.
const FullWindow = -1

// EventNames maps the four logical event identifiers to their wire names.
type EventNames struct {
	Sample                string
	StartMitigation       string
	StopMitigation        string
	ConfigurationReloaded string
}

// DefaultEventNames returns the wire names used when a deployment does not
// override them.
func DefaultEventNames() EventNames {
	return EventNames{
		Sample:                "MetricsSampled",
		StartMitigation:       "MitigationStart",
		StopMitigation:        "MitigationStop",
		ConfigurationReloaded: "ConfigurationReloaded",
	}
}

// Config is an immutable snapshot of the detector's runtime configuration.
// It is never mutated after construction; reloads build a fresh Config and
// publish it as a whole-object replacement, so a batch that loaded one
// snapshot can never observe a partial mix of two.
type Config struct {
	Version                   string
	MitigationEnabled         bool
	FlagsBeforeActivation     int
	DeflagsBeforeDeactivation int

	// Thresholds bounds the allowed deviation per metric name. The key set
	// must cover every metric that ever appears in a sample, except the
	// reserved Activity metric.
	Thresholds map[string]metric.Value

	SamplesBeforeInclusion int // FullWindow = require a full window of activity
	SamplesBeforeExclusion int // FullWindow = require a full window of inactivity
	NormalizeSamples       bool
	MaxSamples             int // sample window capacity per host

	Events EventNames
}

// Threshold returns the deviation bound for the named metric.
func (c *Config) Threshold(name string) (metric.Value, bool) {
	v, ok := c.Thresholds[name]
	return v, ok
}

func (c *Config) validate() error {
	if c.MaxSamples <= 0 {
		return fmt.Errorf("%w: Performance.MaxSamples must be positive, got %d",
			ErrMalformedConfiguration, c.MaxSamples)
	}
	if err := validateRunLength("Performance.SamplesBeforeInclusion", c.SamplesBeforeInclusion); err != nil {
		return err
	}
	if err := validateRunLength("Performance.SamplesBeforeExclusion", c.SamplesBeforeExclusion); err != nil {
		return err
	}
	if c.MitigationEnabled {
		if c.FlagsBeforeActivation <= 0 {
			return fmt.Errorf("%w: MitigationConfiguration.FlagsBeforeActivation must be positive, got %d",
				ErrMalformedConfiguration, c.FlagsBeforeActivation)
		}
		if c.DeflagsBeforeDeactivation <= 0 {
			return fmt.Errorf("%w: MitigationConfiguration.DeflagsBeforeDeactivation must be positive, got %d",
				ErrMalformedConfiguration, c.DeflagsBeforeDeactivation)
		}
	}
	if _, ok := c.Thresholds[metric.Activity]; ok {
		return fmt.Errorf("%w: %q is reserved and must not carry a threshold",
			ErrMalformedConfiguration, metric.Activity)
	}
	for logical, name := range map[string]string{
		"SampleEvent":           c.Events.Sample,
		"StartMitigation":       c.Events.StartMitigation,
		"StopMitigation":        c.Events.StopMitigation,
		"ConfigurationReloaded": c.Events.ConfigurationReloaded,
	} {
		if name == "" {
			return fmt.Errorf("%w: EventNames.%s must not be empty", ErrMalformedConfiguration, logical)
		}
	}
	return nil
}

func validateRunLength(key string, n int) error {
	if n == FullWindow || n >= 1 {
		return nil
	}
	return fmt.Errorf("%w: %s must be positive or -1 (full window), got %d",
		ErrMalformedConfiguration, key, n)
}
