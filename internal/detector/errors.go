package detector

import "errors"

var (
	// ErrInvalidSampleBatch marks a batch rejected before any host state
	// was touched: missing Activity metric, heterogeneous metric key sets
	// across hosts, or nil values.
	ErrInvalidSampleBatch = errors.New("invalid sample batch")

	// ErrConfigurationMismatch marks a batch reporting a metric that has
	// no threshold configured while mitigation is enabled.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
)

func isConfigurationMismatch(err error) bool {
	return errors.Is(err, ErrConfigurationMismatch)
}
