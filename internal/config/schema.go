package config

import (
	"encoding/json"
	"fmt"

	"github.com/ravenhall-io/coresentry/pkg/metric"
)

// The runtime configuration document wraps every leaf in a {"Value": ...}
// object so a sibling "Description" can document it in place. Descriptions
// are ignored at parse time.
//
// Viper is deliberately not used for this document: it folds map keys to
// lower case, which would corrupt the open, case-sensitive Thresholds and
// EventNames maps.

type boolOption struct {
	Value       *bool  `json:"Value"`
	Description string `json:"Description"`
}

type intOption struct {
	Value       *int   `json:"Value"`
	Description string `json:"Description"`
}

type floatOption struct {
	Value       *float64 `json:"Value"`
	Description string   `json:"Description"`
}

type stringOption struct {
	Value       *string `json:"Value"`
	Description string  `json:"Description"`
}

type document struct {
	Version                 *stringOption `json:"Version"`
	EnableMitigation        *boolOption   `json:"EnableMitigation"`
	MitigationConfiguration *struct {
		FlagsBeforeActivation     *intOption `json:"FlagsBeforeActivation"`
		DeflagsBeforeDeactivation *intOption `json:"DeflagsBeforeDeactivation"`
	} `json:"MitigationConfiguration"`
	Thresholds  map[string]floatOption `json:"Thresholds"`
	Performance *struct {
		SamplesBeforeInclusion *intOption  `json:"SamplesBeforeInclusion"`
		SamplesBeforeExclusion *intOption  `json:"SamplesBeforeExclusion"`
		NormalizeSamples       *boolOption `json:"NormalizeSamples"`
		MaxSamples             *intOption  `json:"MaxSamples"`
	} `json:"Performance"`
	EventNames map[string]stringOption `json:"EventNames"`
}

// Parse decodes and validates a runtime configuration document. Any missing
// required key, wrongly-typed value, or failed invariant is reported as
// ErrMalformedConfiguration; the caller keeps whatever configuration was
// active before.
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfiguration, err)
	}

	cfg := &Config{
		Thresholds: make(map[string]metric.Value, len(doc.Thresholds)),
		Events:     DefaultEventNames(),
	}

	if doc.Version != nil && doc.Version.Value != nil {
		cfg.Version = *doc.Version.Value
	}

	enabled, err := requiredBool(doc.EnableMitigation, "EnableMitigation")
	if err != nil {
		return nil, err
	}
	cfg.MitigationEnabled = enabled

	if cfg.MitigationEnabled {
		mc := doc.MitigationConfiguration
		if mc == nil {
			return nil, missingKey("MitigationConfiguration")
		}
		if cfg.FlagsBeforeActivation, err = requiredInt(mc.FlagsBeforeActivation,
			"MitigationConfiguration.FlagsBeforeActivation"); err != nil {
			return nil, err
		}
		if cfg.DeflagsBeforeDeactivation, err = requiredInt(mc.DeflagsBeforeDeactivation,
			"MitigationConfiguration.DeflagsBeforeDeactivation"); err != nil {
			return nil, err
		}
	}

	if doc.Thresholds == nil {
		return nil, missingKey("Thresholds")
	}
	for name, opt := range doc.Thresholds {
		if opt.Value == nil {
			return nil, missingKey("Thresholds." + name + ".Value")
		}
		cfg.Thresholds[name] = metric.Float(*opt.Value)
	}

	perf := doc.Performance
	if perf == nil {
		return nil, missingKey("Performance")
	}
	if cfg.SamplesBeforeInclusion, err = requiredInt(perf.SamplesBeforeInclusion,
		"Performance.SamplesBeforeInclusion"); err != nil {
		return nil, err
	}
	if cfg.SamplesBeforeExclusion, err = requiredInt(perf.SamplesBeforeExclusion,
		"Performance.SamplesBeforeExclusion"); err != nil {
		return nil, err
	}
	if cfg.NormalizeSamples, err = requiredBool(perf.NormalizeSamples,
		"Performance.NormalizeSamples"); err != nil {
		return nil, err
	}
	if cfg.MaxSamples, err = requiredInt(perf.MaxSamples, "Performance.MaxSamples"); err != nil {
		return nil, err
	}

	for logical, opt := range doc.EventNames {
		if opt.Value == nil {
			return nil, missingKey("EventNames." + logical + ".Value")
		}
		switch logical {
		case "SampleEvent":
			cfg.Events.Sample = *opt.Value
		case "StartMitigation":
			cfg.Events.StartMitigation = *opt.Value
		case "StopMitigation":
			cfg.Events.StopMitigation = *opt.Value
		case "ConfigurationReloaded":
			cfg.Events.ConfigurationReloaded = *opt.Value
		default:
			return nil, fmt.Errorf("%w: unknown logical event name EventNames.%s",
				ErrMalformedConfiguration, logical)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requiredBool(opt *boolOption, key string) (bool, error) {
	if opt == nil || opt.Value == nil {
		return false, missingKey(key)
	}
	return *opt.Value, nil
}

func requiredInt(opt *intOption, key string) (int, error) {
	if opt == nil || opt.Value == nil {
		return 0, missingKey(key)
	}
	return *opt.Value, nil
}

func missingKey(key string) error {
	return fmt.Errorf("%w: missing required key %s", ErrMalformedConfiguration, key)
}
