package sampling

import "fmt"

// Reduce maps an ordered series to at most target representative
// elements using the given strategy.
//
// Contract:
//   - target must be >= 2 (except under None, which ignores it)
//   - if len(s) <= target the input is returned unchanged
//   - every strategy except None keeps the source's first and last
//     elements in place (anchor guarantee)
//
// Reduce never mutates its input and is safe to call concurrently for
// different inputs.
func Reduce[T any](s []T, target int, strat Strategy) ([]T, error) {
	if strat.Kind == None || strat.Kind == "" {
		return s, nil
	}
	if target < 2 {
		return nil, ErrTargetTooSmall
	}
	if len(s) <= target {
		return s, nil
	}

	switch strat.Kind {
	case Uniform:
		return uniform(s, target), nil
	case LTTB:
		buckets := strat.Buckets
		if buckets == 0 {
			buckets = target
		}
		return bucketMidpoints(s, buckets), nil
	case MinMax:
		return minMax(s, target), nil
	case Adaptive:
		// Placeholder: variance-aware density is not implemented yet,
		// so Adaptive degrades to Uniform with Threshold ignored.
		return uniform(s, target), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, strat.Kind)
	}
}

// uniform strides the index range in target equal steps. The final slot
// is forcibly overwritten with the source's last element so the anchor
// guarantee holds even when the stride already landed near the tail;
// the resulting near-end duplicate/skip is accepted.
func uniform[T any](s []T, target int) []T {
	n := len(s)
	out := make([]T, target)
	for i := 0; i < target; i++ {
		out[i] = s[i*n/target]
	}
	out[target-1] = s[n-1]
	return out
}

// bucketMidpoints keeps the endpoints verbatim and picks the midpoint
// index of each of buckets-2 interior ranges.
func bucketMidpoints[T any](s []T, buckets int) []T {
	n := len(s)
	if buckets <= 2 {
		// Too few buckets to hold any interior range; anchors only.
		return []T{s[0], s[n-1]}
	}
	if n <= buckets {
		return s
	}

	interior := buckets - 2
	span := float64(n-2) / float64(interior)

	out := make([]T, 0, buckets)
	out = append(out, s[0])
	for i := 0; i < interior; i++ {
		lo := 1 + int(float64(i)*span)
		hi := 1 + int(float64(i+1)*span)
		if hi > n-1 {
			hi = n - 1
		}
		if lo >= hi {
			lo = hi - 1
		}
		out = append(out, s[(lo+hi)/2])
	}
	out = append(out, s[n-1])
	return out
}

// minMax walks buckets of size n/(target/2) and emits the midpoint
// index of each, bounded so the anchors always fit within target.
func minMax[T any](s []T, target int) []T {
	n := len(s)
	half := target / 2
	if half < 1 {
		half = 1
	}
	bucketSize := n / half
	if bucketSize < 1 {
		bucketSize = 1
	}

	out := make([]T, 0, half+2)
	out = append(out, s[0])
	for start := 0; start < n && len(out) < target-1; start += bucketSize {
		end := start + bucketSize
		if end > n {
			end = n
		}
		mid := (start + end) / 2
		if mid == 0 || mid == n-1 {
			continue
		}
		out = append(out, s[mid])
	}
	out = append(out, s[n-1])
	return out
}
