// Package metric defines the numeric abstraction used for host samples.
// Any caller-defined metric type can participate in detection as long as
// it supports addition, division by a count, absolute difference, and
// ordered comparison.
package metric

import (
	"fmt"
	"math"
	"sort"
)

// Activity is the reserved metric name carrying the host's 0/1 activity
// indicator. It is mandatory in every sample, never has a threshold, and
// is never compared against the population average.
const Activity = "Activity"

// Value is the minimal capability set a metric value must satisfy.
//
// Implementations may assume both operands share the same concrete type;
// combining foreign types panics. Batch validation keeps mixed types out
// of the pipeline before any arithmetic runs.
type Value interface {
	// Add returns the sum of the receiver and other.
	Add(other Value) Value
	// Div returns the receiver divided by n. A count of zero or less
	// yields the type's neutral element rather than an error.
	Div(n int) Value
	// AbsDiff returns the absolute difference between the receiver and other.
	AbsDiff(other Value) Value
	// Less reports whether the receiver orders strictly before other.
	Less(other Value) bool
	// IsZero reports whether the receiver is the type's neutral element.
	IsZero() bool
}

// Float is the built-in floating-point Value implementation.
type Float float64

func (f Float) Add(other Value) Value { return f + mustFloat(other) }

func (f Float) Div(n int) Value {
	if n <= 0 {
		return Float(0)
	}
	return f / Float(n)
}

func (f Float) AbsDiff(other Value) Value {
	return Float(math.Abs(float64(f - mustFloat(other))))
}

func (f Float) Less(other Value) bool { return f < mustFloat(other) }

func (f Float) IsZero() bool { return f == 0 }

func (f Float) String() string { return fmt.Sprintf("%g", float64(f)) }

func mustFloat(v Value) Float {
	f, ok := v.(Float)
	if !ok {
		panic(fmt.Sprintf("metric: Float combined with incompatible %T", v))
	}
	return f
}

// Map associates metric names with values. One Map is one sample.
type Map map[string]Value

// Clone returns a shallow copy of the map. Values are immutable by
// convention, so sharing them is safe.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Names returns the metric names in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Average folds vals into a single mean value. An empty slice returns nil
// (there is nothing to seed the neutral element from).
func Average(vals []Value) Value {
	if len(vals) == 0 {
		return nil
	}
	acc := vals[0]
	for _, v := range vals[1:] {
		acc = acc.Add(v)
	}
	return acc.Div(len(vals))
}
