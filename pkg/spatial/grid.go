// Package spatial provides a fixed-size grid index over 2D points for
// sub-linear radius queries against a full, un-reduced dataset.
package spatial

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrNotReady is returned by Query before the bulk insert phase has
	// been sealed. Construction may run off the interactive thread;
	// callers check availability instead of blocking.
	ErrNotReady = errors.New("spatial index not ready")

	// ErrInvalidGridSize is returned for a non-positive cell count.
	ErrInvalidGridSize = errors.New("grid size must be positive")

	// ErrInvalidBounds is returned when the bounding rectangle has a
	// non-positive extent.
	ErrInvalidBounds = errors.New("bounds must have positive width and height")
)

// Bounds is the rectangle the grid is built over. Points outside it are
// clamped into the nearest edge cell at insert time, not rejected.
type Bounds struct {
	MinX   float64 `json:"min_x"`
	MinY   float64 `json:"min_y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// record pairs an element with the point it was inserted at.
type record[T any] struct {
	elem T
	x, y float64
}

// Grid is a cell grid over Bounds with gridSize cells per axis.
//
// Usage is insert-all-then-query: Insert every element, call Seal, then
// Query freely. There is no incremental delete; rebuilding means
// constructing a new grid. Insert and Seal are meant to run from a
// single building goroutine; Query may be called from anywhere and
// reports ErrNotReady until Seal has completed.
type Grid[T any] struct {
	bounds   Bounds
	gridSize int

	records []record[T]
	cells   [][]int // cell -> indices into records

	ready atomic.Bool
}

// New creates an empty grid covering bounds with gridSize cells per
// axis.
func New[T any](bounds Bounds, gridSize int) (*Grid[T], error) {
	if gridSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGridSize, gridSize)
	}
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidBounds, bounds)
	}
	return &Grid[T]{
		bounds:   bounds,
		gridSize: gridSize,
		cells:    make([][]int, gridSize*gridSize),
	}, nil
}

// Insert appends an element at (x, y). Points outside the bounds land
// in the nearest edge cell. Must not be called after Seal.
func (g *Grid[T]) Insert(elem T, x, y float64) {
	idx := len(g.records)
	g.records = append(g.records, record[T]{elem: elem, x: x, y: y})

	cx := g.cellCoord(x, g.bounds.MinX, g.bounds.Width)
	cy := g.cellCoord(y, g.bounds.MinY, g.bounds.Height)
	cell := cy*g.gridSize + cx
	g.cells[cell] = append(g.cells[cell], idx)
}

// Seal marks the bulk insert phase complete and publishes the grid for
// querying.
func (g *Grid[T]) Seal() {
	g.ready.Store(true)
}

// Ready reports whether the grid can be queried.
func (g *Grid[T]) Ready() bool {
	return g.ready.Load()
}

// Len returns the number of inserted records.
func (g *Grid[T]) Len() int {
	return len(g.records)
}

// Query returns every element whose Euclidean distance to (cx, cy) is
// at most radius. Only the cells covered by the radius box are scanned;
// candidates are then filtered with an exact circular test, so a radius
// of zero matches exactly coincident points only.
func (g *Grid[T]) Query(cx, cy, radius float64) ([]T, error) {
	if !g.ready.Load() {
		return nil, ErrNotReady
	}

	minCX := g.cellCoord(cx-radius, g.bounds.MinX, g.bounds.Width)
	maxCX := g.cellCoord(cx+radius, g.bounds.MinX, g.bounds.Width)
	minCY := g.cellCoord(cy-radius, g.bounds.MinY, g.bounds.Height)
	maxCY := g.cellCoord(cy+radius, g.bounds.MinY, g.bounds.Height)

	r2 := radius * radius
	var results []T
	for y := minCY; y <= maxCY; y++ {
		for x := minCX; x <= maxCX; x++ {
			for _, idx := range g.cells[y*g.gridSize+x] {
				rec := g.records[idx]
				dx := rec.x - cx
				dy := rec.y - cy
				if dx*dx+dy*dy <= r2 {
					results = append(results, rec.elem)
				}
			}
		}
	}
	return results, nil
}

// cellCoord maps a coordinate to a cell index, clamped to the grid.
func (g *Grid[T]) cellCoord(v, min, extent float64) int {
	c := int((v - min) / extent * float64(g.gridSize))
	if c < 0 {
		return 0
	}
	if c >= g.gridSize {
		return g.gridSize - 1
	}
	return c
}
