/*
Package sampling implements the reduction algorithms that map an
arbitrarily large ordered series to a bounded representative subset
suitable for rendering.

A chart that is 1,200 pixels wide cannot usefully draw 2 million
points; it can draw at most one point per pixel. Reduce bridges that
gap:

	reduced, err := sampling.Reduce(points, 1200, sampling.Strategy{Kind: sampling.LTTB})

# Strategies

	None      identity, returns the input unchanged
	Uniform   evenly strided indices, last slot pinned to the tail
	LTTB      bucket-midpoint variant of largest-triangle-three-buckets
	MinMax    bucket-midpoint walk sized for half the target
	Adaptive  placeholder, currently falls back to Uniform

LTTB and MinMax intentionally select the midpoint index of each bucket
rather than the area-maximizing or true min/max representative. The
simplified selection is the documented contract; upgrading fidelity is
a deliberate future change, not a bug fix.

# Anchor guarantee

Every strategy except None keeps the source's first and last elements
in the output, so a reduced line never drifts at the edges of the
viewport. When the input is already at or below the target size the
input is returned as-is for every strategy.

All functions are pure and safe for concurrent use on different inputs.
*/
package sampling
