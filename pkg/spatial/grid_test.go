package spatial

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/tinyviz/tinyviz/pkg/series"
)

func testBounds() Bounds {
	return Bounds{MinX: 0, MinY: 0, Width: 100, Height: 100}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New[int](testBounds(), 0); !errors.Is(err, ErrInvalidGridSize) {
		t.Errorf("Expected ErrInvalidGridSize, got %v", err)
	}
	if _, err := New[int](testBounds(), -5); !errors.Is(err, ErrInvalidGridSize) {
		t.Errorf("Expected ErrInvalidGridSize for negative size, got %v", err)
	}
	if _, err := New[int](Bounds{Width: 0, Height: 10}, 100); !errors.Is(err, ErrInvalidBounds) {
		t.Errorf("Expected ErrInvalidBounds for zero width, got %v", err)
	}
}

func TestQuery_BeforeSeal(t *testing.T) {
	g, err := New[int](testBounds(), 100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	g.Insert(1, 10, 10)
	if _, err := g.Query(10, 10, 5); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady before Seal, got %v", err)
	}
	if g.Ready() {
		t.Error("Ready() should be false before Seal")
	}

	g.Seal()
	if !g.Ready() {
		t.Error("Ready() should be true after Seal")
	}
	if _, err := g.Query(10, 10, 5); err != nil {
		t.Errorf("Query after Seal failed: %v", err)
	}
}

// Scenario from the design review: two points, a small radius around
// one of them returns only that point.
func TestQuery_TwoPoints(t *testing.T) {
	g, err := New[series.Point](testBounds(), 100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p1 := series.Point{X: 10, Y: 10}
	p2 := series.Point{X: 90, Y: 90}
	g.Insert(p1, p1.X, p1.Y)
	g.Insert(p2, p2.X, p2.Y)
	g.Seal()

	got, err := g.Query(10, 10, 5)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(got))
	}
	if got[0] != p1 {
		t.Errorf("Expected %+v, got %+v", p1, got[0])
	}
}

func TestQuery_ZeroRadius(t *testing.T) {
	g, _ := New[int](testBounds(), 100)
	g.Insert(1, 50, 50)
	g.Insert(2, 50.0001, 50)
	g.Insert(3, 50, 50)
	g.Seal()

	got, err := g.Query(50, 50, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected exactly the 2 coincident elements, got %d", len(got))
	}
}

func TestInsert_OutOfBoundsClamped(t *testing.T) {
	g, _ := New[int](testBounds(), 100)
	// Both land in edge cells, not rejected.
	g.Insert(1, -10, 50)
	g.Insert(2, 250, 250)
	g.Seal()

	if g.Len() != 2 {
		t.Fatalf("Expected 2 records, got %d", g.Len())
	}

	// The records keep their true coordinates, so a query centered on
	// the raw position still finds them.
	got, err := g.Query(-10, 50, 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected clamped element 1, got %v", got)
	}
}

// The cell scan is an optimization only: results must exactly match a
// brute-force Euclidean filter.
func TestQuery_MatchesBruteForce(t *testing.T) {
	g, _ := New[int](testBounds(), 100)

	rng := rand.New(rand.NewSource(42))
	type pt struct{ x, y float64 }
	pts := make([]pt, 500)
	for i := range pts {
		pts[i] = pt{x: rng.Float64() * 100, y: rng.Float64() * 100}
		g.Insert(i, pts[i].x, pts[i].y)
	}
	g.Seal()

	queries := []struct{ cx, cy, r float64 }{
		{50, 50, 10},
		{0, 0, 25},
		{99, 1, 5},
		{50, 50, 200}, // radius covering everything
	}
	for _, q := range queries {
		got, err := g.Query(q.cx, q.cy, q.r)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}

		want := map[int]bool{}
		for i, p := range pts {
			if math.Hypot(p.x-q.cx, p.y-q.cy) <= q.r {
				want[i] = true
			}
		}

		if len(got) != len(want) {
			t.Fatalf("Query(%v,%v,%v): got %d results, want %d", q.cx, q.cy, q.r, len(got), len(want))
		}
		for _, id := range got {
			if !want[id] {
				t.Errorf("Query(%v,%v,%v): unexpected element %d", q.cx, q.cy, q.r, id)
			}
		}
	}
}

func TestQuery_EmptyGrid(t *testing.T) {
	g, _ := New[int](testBounds(), 100)
	g.Seal()

	got, err := g.Query(50, 50, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no results from empty grid, got %d", len(got))
	}
}

// Construction off the interactive thread: queries issued while a
// background goroutine is still inserting see ErrNotReady, never a
// partially-built structure.
func TestQuery_DuringBackgroundBuild(t *testing.T) {
	g, _ := New[int](testBounds(), 100)

	built := make(chan struct{})
	go func() {
		defer close(built)
		for i := 0; i < 10000; i++ {
			g.Insert(i, float64(i%100), float64(i/100%100))
		}
		g.Seal()
	}()

	for {
		got, err := g.Query(50, 50, 3)
		if errors.Is(err, ErrNotReady) {
			continue
		}
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		// Once ready, the full dataset is visible.
		if len(got) == 0 {
			t.Error("Expected results from sealed grid")
		}
		break
	}
	<-built
}

func BenchmarkQuery(b *testing.B) {
	g, _ := New[int](testBounds(), 100)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100000; i++ {
		g.Insert(i, rng.Float64()*100, rng.Float64()*100)
	}
	g.Seal()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.Query(50, 50, 5); err != nil {
			b.Fatal(err)
		}
	}
}
