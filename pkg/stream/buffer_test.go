package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestBuffer(t *testing.T, windowSize int) *Buffer[int] {
	t.Helper()
	b, err := New[int](Config{WindowSize: windowSize, UpdateFrequency: 60})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func TestNew_Validation(t *testing.T) {
	if _, err := New[int](Config{WindowSize: -1}); !errors.Is(err, ErrInvalidWindowSize) {
		t.Errorf("Expected ErrInvalidWindowSize, got %v", err)
	}
	if _, err := New[int](Config{UpdateFrequency: -30}); !errors.Is(err, ErrInvalidFrequency) {
		t.Errorf("Expected ErrInvalidFrequency, got %v", err)
	}

	// Zero fields take defaults.
	b, err := New[int](Config{})
	if err != nil {
		t.Fatalf("New with defaults failed: %v", err)
	}
	if b.cfg.WindowSize <= 0 || b.cfg.UpdateFrequency <= 0 {
		t.Errorf("Defaults not applied: %+v", b.cfg)
	}
}

// Scenario from the design review: window size 5, push 1..7, one flush
// leaves exactly the newest five values in arrival order.
func TestFlush_WindowEviction(t *testing.T) {
	b := newTestBuffer(t, 5)

	for _, v := range []int{1, 2, 3, 4, 5, 6, 7} {
		b.Push(v)
	}
	b.Flush()

	got := b.Window()
	want := []int{3, 4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("Expected window %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected window %v, got %v", want, got)
		}
	}
}

func TestFlush_FewerThanWindow(t *testing.T) {
	b := newTestBuffer(t, 10)

	for i := 0; i < 4; i++ {
		b.Push(i)
	}
	b.Flush()

	if got := b.Window(); len(got) != 4 {
		t.Fatalf("Expected window length 4, got %d", len(got))
	}
	if b.Pending() != 0 {
		t.Errorf("Pending queue not drained: %d", b.Pending())
	}
}

func TestFlush_EmptyIsNoOp(t *testing.T) {
	b := newTestBuffer(t, 10)

	b.Push(1)
	b.Flush()
	rate := b.Rate()
	if rate <= 0 {
		t.Fatalf("Expected positive rate after flush, got %v", rate)
	}

	// An empty flush neither changes the window nor zeroes the rate.
	b.Flush()
	if got := b.Window(); len(got) != 1 {
		t.Errorf("Empty flush changed window: %v", got)
	}
	if b.Rate() != rate {
		t.Errorf("Empty flush changed rate: %v -> %v", rate, b.Rate())
	}
}

func TestClear(t *testing.T) {
	b := newTestBuffer(t, 10)

	for i := 0; i < 5; i++ {
		b.Push(i)
	}
	b.Flush()
	b.Push(99) // pending at clear time

	b.Clear()

	if got := b.Window(); len(got) != 0 {
		t.Errorf("Window survived Clear: %v", got)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending survived Clear: %d", b.Pending())
	}
	if b.Rate() != 0 {
		t.Errorf("Rate survived Clear: %v", b.Rate())
	}

	// A flush after Clear finds nothing.
	b.Flush()
	if got := b.Window(); len(got) != 0 {
		t.Errorf("Flush after Clear produced data: %v", got)
	}
}

func TestSetData_BypassesCadence(t *testing.T) {
	b := newTestBuffer(t, 5)

	b.Push(1)
	b.Push(2)
	b.SetData([]int{10, 20, 30, 40, 50, 60, 70})

	got := b.Window()
	want := []int{30, 40, 50, 60, 70}
	if len(got) != len(want) {
		t.Fatalf("Expected window %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected window %v, got %v", want, got)
		}
	}

	// Pending values were discarded, so a flush is a no-op.
	if b.Pending() != 0 {
		t.Fatalf("SetData kept pending values: %d", b.Pending())
	}
	b.Flush()
	if got := b.Window(); len(got) != 5 || got[0] != 30 {
		t.Errorf("Flush after SetData disturbed window: %v", got)
	}
}

func TestStartStop_PeriodicFlush(t *testing.T) {
	b, err := New[int](Config{WindowSize: 100, UpdateFrequency: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	for i := 0; i < 10; i++ {
		b.Push(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(b.Window()) != 10 {
		if time.Now().After(deadline) {
			t.Fatalf("Ticker flush never committed window, got %d", len(b.Window()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStop_Idempotent(t *testing.T) {
	b := newTestBuffer(t, 10)

	// Stop before Start is a no-op.
	b.Stop()

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b.Stop()
	b.Stop()

	// No flush runs after Stop returns: pushes stay pending.
	b.Push(1)
	time.Sleep(50 * time.Millisecond)
	if len(b.Window()) != 0 {
		t.Error("Flush occurred after Stop")
	}
	if b.Pending() != 1 {
		t.Errorf("Expected 1 pending value, got %d", b.Pending())
	}
}

func TestRestart(t *testing.T) {
	b, err := New[int](Config{WindowSize: 10, UpdateFrequency: 200})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	b.Start(context.Background())
	b.Stop()

	b.Start(context.Background())
	defer b.Stop()

	b.Push(7)
	deadline := time.Now().Add(2 * time.Second)
	for len(b.Window()) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Restarted buffer never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOnFlush_SnapshotOutsideLock(t *testing.T) {
	b := newTestBuffer(t, 5)

	var mu sync.Mutex
	var gotWindow []int
	var gotRate float64
	b.OnFlush(func(window []int, rate float64) {
		// Pushing from inside the callback must not deadlock: the
		// buffer lock is not held during publication.
		b.Push(100)
		mu.Lock()
		gotWindow = window
		gotRate = rate
		mu.Unlock()
	})

	b.Push(1)
	b.Push(2)
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(gotWindow) != 2 || gotWindow[0] != 1 || gotWindow[1] != 2 {
		t.Errorf("Callback saw wrong window: %v", gotWindow)
	}
	if gotRate <= 0 {
		t.Errorf("Callback saw non-positive rate: %v", gotRate)
	}
	if b.Pending() != 1 {
		t.Errorf("Push inside callback lost: pending=%d", b.Pending())
	}
}

// Push must be callable from many goroutines concurrently with the
// flush cycle.
func TestPush_ConcurrentWithFlush(t *testing.T) {
	b, err := New[int](Config{WindowSize: 100000, UpdateFrequency: 200})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b.Start(context.Background())

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Push(id*perProducer + i)
			}
		}(p)
	}
	wg.Wait()
	b.Flush()
	b.Stop()

	if got := len(b.Window()); got != producers*perProducer {
		t.Errorf("Lost pushes: window has %d of %d values", got, producers*perProducer)
	}
}

func BenchmarkPush(b *testing.B) {
	buf, err := New[int](Config{WindowSize: 10000, UpdateFrequency: 60})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Push(i)
	}
}

func BenchmarkPushParallel(b *testing.B) {
	buf, err := New[int](Config{WindowSize: 10000, UpdateFrequency: 60})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf.Push(1)
		}
	})
}
