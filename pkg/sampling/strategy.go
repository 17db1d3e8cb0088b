package sampling

import (
	"errors"
	"fmt"
)

// Kind names a reduction algorithm.
type Kind string

const (
	// None passes the series through untouched regardless of size.
	None Kind = "none"

	// Uniform takes evenly strided indices across the series.
	Uniform Kind = "uniform"

	// LTTB buckets the interior of the series and takes one
	// representative per bucket. This is the simplified bucket-midpoint
	// form, not the textbook area-maximizing algorithm; the weaker
	// selection is the documented contract.
	LTTB Kind = "lttb"

	// MinMax walks the series in buckets sized for half the target and
	// takes the midpoint index of each. Same midpoint simplification
	// as LTTB.
	MinMax Kind = "minmax"

	// Adaptive is a placeholder that currently falls back to Uniform.
	// Threshold is accepted but ignored.
	Adaptive Kind = "adaptive"
)

// Strategy selects a reduction algorithm plus its parameters.
// It is pure data; Reduce interprets it.
type Strategy struct {
	Kind Kind `json:"kind"`

	// Buckets overrides the bucket count for LTTB. Zero means derive
	// it from the target point count.
	Buckets int `json:"buckets,omitempty"`

	// Threshold is the local-variance knob for Adaptive. Currently
	// ignored.
	Threshold float64 `json:"threshold,omitempty"`
}

var (
	// ErrTargetTooSmall is returned when the target point count cannot
	// anchor both endpoints.
	ErrTargetTooSmall = errors.New("target point count must be at least 2")

	// ErrUnknownKind is returned for a strategy kind Reduce does not
	// interpret.
	ErrUnknownKind = errors.New("unknown sampling strategy")
)

// ParseKind maps a string to a Kind, for config and request decoding.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case None, Uniform, LTTB, MinMax, Adaptive:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}
