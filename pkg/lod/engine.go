// Package lod owns a raw series and serves bounded-size reductions of
// it, memoized per detail level from a fixed ladder.
package lod

import (
	"sort"
	"sync"
	"time"

	"github.com/tinyviz/tinyviz/pkg/config"
	"github.com/tinyviz/tinyviz/pkg/sampling"
	"github.com/tinyviz/tinyviz/pkg/series"
)

// Config configures an Engine. Zero fields fall back to the package
// defaults.
type Config struct {
	// Ladder is the set of detail levels the engine memoizes. Requests
	// resolve to the nearest level.
	Ladder []int

	// Strategy is the initial sampling strategy.
	Strategy sampling.Strategy

	// EagerThreshold is the raw size above which SetData precomputes
	// every ladder level in the background. Negative disables eager
	// precompute.
	EagerThreshold int
}

// Metrics is a snapshot of the engine's query counters.
type Metrics struct {
	LastQueryNanos int64  `json:"last_query_ns"`
	AvgQueryNanos  int64  `json:"avg_query_ns"`
	TotalQueries   uint64 `json:"total_queries"`
}

// Engine owns one raw series for its lifetime. The series is replaced
// wholesale via SetData; it is never mutated in place. Reductions at
// ladder levels are cached and invalidated as a whole whenever the data
// or the strategy changes.
//
// All methods are safe for concurrent use. Eager precompute runs on a
// background goroutine and publishes each finished level through the
// engine's lock, tagged with a generation counter so results for a
// superseded dataset are discarded rather than mixed in.
type Engine[T any] struct {
	mu         sync.Mutex
	data       []T
	strategy   sampling.Strategy
	cache      map[int][]T
	generation uint64
	metrics    Metrics

	ladder         []int
	eagerThreshold int
}

// New creates an engine with no data.
func New[T any](cfg Config) *Engine[T] {
	ladder := cfg.Ladder
	if len(ladder) == 0 {
		ladder = config.LODLadder
	}
	sorted := make([]int, len(ladder))
	copy(sorted, ladder)
	sort.Ints(sorted)

	threshold := cfg.EagerThreshold
	if threshold == 0 {
		threshold = config.EagerPrecomputeThreshold
	}

	return &Engine[T]{
		strategy:       cfg.Strategy,
		cache:          make(map[int][]T),
		ladder:         sorted,
		eagerThreshold: threshold,
	}
}

// SetData replaces the raw series. The slice is copied, the LOD cache
// is invalidated wholesale, and for large datasets every ladder level
// is precomputed in the background. Eager precompute is advisory:
// callers may observe cache misses for levels still in flight.
func (e *Engine[T]) SetData(data []T) {
	owned := make([]T, len(data))
	copy(owned, data)

	e.mu.Lock()
	e.data = owned
	e.generation++
	gen := e.generation
	strat := e.strategy
	e.cache = make(map[int][]T)
	e.mu.Unlock()

	if e.eagerThreshold >= 0 && len(owned) > e.eagerThreshold {
		go e.precompute(owned, strat, gen)
	}
}

// SetStrategy switches the active sampling strategy and invalidates
// every cached level.
func (e *Engine[T]) SetStrategy(s sampling.Strategy) {
	e.mu.Lock()
	e.strategy = s
	e.generation++
	gen := e.generation
	data := e.data
	e.cache = make(map[int][]T)
	e.mu.Unlock()

	if e.eagerThreshold >= 0 && len(data) > e.eagerThreshold {
		go e.precompute(data, s, gen)
	}
}

// Strategy returns the active sampling strategy.
func (e *Engine[T]) Strategy() sampling.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy
}

// Len returns the raw series length.
func (e *Engine[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.data)
}

// Data returns a copy of the raw series.
func (e *Engine[T]) Data() []T {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]T, len(e.data))
	copy(out, e.data)
	return out
}

// OptimizedData returns a reduced view of the raw series.
//
// rng selects an index sub-range (nil for the whole series). If the
// selected slice already fits within target it is returned as-is.
// Otherwise target resolves to the nearest ladder level; whole-series
// reductions are served from the cache when present and memoized when
// not. Sub-range reductions are computed fresh: arbitrary ranges are
// too varied to memoize usefully under level-only cache keys.
//
// target < 2 is a caller contract violation and fails fast. Querying
// before any data is set returns an empty series, not an error. Every
// call, including short-circuits, records its latency.
func (e *Engine[T]) OptimizedData(rng *series.Range, target int) ([]T, error) {
	start := time.Now()
	defer e.recordQuery(start)

	if target < 2 {
		return nil, sampling.ErrTargetTooSmall
	}

	e.mu.Lock()
	data := e.data
	strat := e.strategy
	gen := e.generation
	e.mu.Unlock()

	if len(data) == 0 {
		return []T{}, nil
	}

	slice := data
	whole := true
	if rng != nil {
		r := rng.Clamp(len(data))
		slice = data[r.Start:r.End]
		whole = r.Start == 0 && r.End == len(data)
	}

	if len(slice) <= target {
		return slice, nil
	}

	level := e.nearestLevel(target)

	if whole {
		e.mu.Lock()
		cached, ok := e.cache[level]
		e.mu.Unlock()
		if ok {
			return cached, nil
		}
	}

	reduced, err := sampling.Reduce(slice, level, strat)
	if err != nil {
		return nil, err
	}

	if whole {
		e.mu.Lock()
		// Only memoize if the dataset has not been replaced meanwhile.
		if e.generation == gen {
			e.cache[level] = reduced
		}
		e.mu.Unlock()
	}
	return reduced, nil
}

// ViewportData filters the raw series to elements whose x-value falls
// in [minX, maxX] and reduces the result to at most one point per
// pixel. Viewport ranges are too varied to memoize, so every call
// recomputes.
func (e *Engine[T]) ViewportData(minX, maxX float64, pixelWidth int, xOf func(T) float64) ([]T, error) {
	start := time.Now()
	defer e.recordQuery(start)

	if pixelWidth < 2 {
		return nil, sampling.ErrTargetTooSmall
	}

	e.mu.Lock()
	data := e.data
	strat := e.strategy
	e.mu.Unlock()

	if len(data) == 0 {
		return []T{}, nil
	}

	visible := make([]T, 0, pixelWidth)
	for _, el := range data {
		if x := xOf(el); x >= minX && x <= maxX {
			visible = append(visible, el)
		}
	}

	if len(visible) <= pixelWidth {
		return visible, nil
	}
	return sampling.Reduce(visible, pixelWidth, strat)
}

// CachedLevels returns the ladder levels currently resident in the
// cache, in ascending order.
func (e *Engine[T]) CachedLevels() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	levels := make([]int, 0, len(e.cache))
	for level := range e.cache {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// Metrics returns a snapshot of the query counters.
func (e *Engine[T]) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// Reset drops the data, the cache, and the accumulated metrics.
func (e *Engine[T]) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = nil
	e.cache = make(map[int][]T)
	e.generation++
	e.metrics = Metrics{}
}

// precompute reduces data at every ladder level and publishes each
// result as it completes. A generation mismatch means the dataset or
// strategy changed underneath us; the remaining work is abandoned.
func (e *Engine[T]) precompute(data []T, strat sampling.Strategy, gen uint64) {
	for _, level := range e.ladder {
		if len(data) <= level {
			continue
		}
		reduced, err := sampling.Reduce(data, level, strat)
		if err != nil {
			return
		}

		e.mu.Lock()
		stale := e.generation != gen
		if !stale {
			e.cache[level] = reduced
		}
		e.mu.Unlock()
		if stale {
			return
		}
	}
}

// nearestLevel resolves target to the closest ladder level. Ties go to
// the smaller level.
func (e *Engine[T]) nearestLevel(target int) int {
	best := e.ladder[0]
	bestDist := abs(target - best)
	for _, level := range e.ladder[1:] {
		if d := abs(target - level); d < bestDist {
			best = level
			bestDist = d
		}
	}
	return best
}

func (e *Engine[T]) recordQuery(start time.Time) {
	elapsed := time.Since(start).Nanoseconds()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.TotalQueries++
	e.metrics.LastQueryNanos = elapsed
	// Running average over all queries since the last reset.
	e.metrics.AvgQueryNanos += (elapsed - e.metrics.AvgQueryNanos) / int64(e.metrics.TotalQueries)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
