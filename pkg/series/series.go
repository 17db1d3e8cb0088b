// Package series holds the shared value types exchanged between the
// reduction engine, the spatial index, and the serving layer.
package series

// Point is a single chart sample in data space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Range is a half-open index range [Start, End) into a series.
// The zero value selects nothing; use Whole for the full series.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Whole returns a range covering all n elements.
func Whole(n int) Range {
	return Range{Start: 0, End: n}
}

// Clamp bounds the range to a series of length n.
// Inverted ranges collapse to empty at the clamped start.
func (r Range) Clamp(n int) Range {
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End > n {
		r.End = n
	}
	if r.Start > n {
		r.Start = n
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// Len returns the number of elements the range selects.
func (r Range) Len() int {
	return r.End - r.Start
}
