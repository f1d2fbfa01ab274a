package synth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/readalong/readalong/tts/engines/mock"
)

func TestQueue_SingleFlight(t *testing.T) {
	engine := mock.New()
	engine.SetDelay(20 * time.Millisecond)
	q := NewQueue(engine, 3)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Synthesize(context.Background(), i, "some sentence to speak", 1.0)
			if err != nil {
				t.Errorf("synthesize %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := engine.MaxConcurrent(); got != 1 {
		t.Errorf("max concurrent engine calls = %d, want 1", got)
	}
	if got := engine.Calls(); got != n {
		t.Errorf("engine calls = %d, want %d", got, n)
	}
}

func TestQueue_CacheHit(t *testing.T) {
	engine := mock.New()
	q := NewQueue(engine, 3)

	ctx := context.Background()
	first, err := q.Synthesize(ctx, 0, "Hello there.", 1.0)
	if err != nil {
		t.Fatalf("first synthesize: %v", err)
	}
	second, err := q.Synthesize(ctx, 0, "Hello there.", 1.0)
	if err != nil {
		t.Fatalf("second synthesize: %v", err)
	}
	if first != second {
		t.Error("expected cached result on second call")
	}
	if engine.Calls() != 1 {
		t.Errorf("engine calls = %d, want 1", engine.Calls())
	}
}

func TestQueue_SpeedChangeInvalidates(t *testing.T) {
	engine := mock.New()
	q := NewQueue(engine, 3)
	ctx := context.Background()

	if _, err := q.Synthesize(ctx, 0, "Hello there.", 1.0); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if q.CachedCount() != 1 {
		t.Fatalf("cached = %d, want 1", q.CachedCount())
	}

	q.SetSpeed(1.5)
	if q.CachedCount() != 0 {
		t.Errorf("cache not invalidated on speed change: %d entries", q.CachedCount())
	}

	if _, err := q.Synthesize(ctx, 0, "Hello there.", 1.5); err != nil {
		t.Fatalf("synthesize at new speed: %v", err)
	}
	if engine.Calls() != 2 {
		t.Errorf("engine calls = %d, want 2", engine.Calls())
	}
}

func TestQueue_AdvanceEvictsBehindWindow(t *testing.T) {
	engine := mock.New()
	q := NewQueue(engine, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := q.Synthesize(ctx, i, "A sentence.", 1.0); err != nil {
			t.Fatalf("synthesize %d: %v", i, err)
		}
	}

	q.Advance(3)
	// Only indices 3, 4 fall inside [3, 3+2].
	if got := q.CachedCount(); got != 2 {
		t.Errorf("cached after advance = %d, want 2", got)
	}
}

func TestQueue_FailureDoesNotPoison(t *testing.T) {
	engine := mock.New()
	q := NewQueue(engine, 3)
	ctx := context.Background()

	boom := errors.New("boom")
	engine.SetFailure(boom)
	if _, err := q.Synthesize(ctx, 0, "Will fail.", 1.0); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}

	engine.SetFailure(nil)
	res, err := q.Synthesize(ctx, 1, "Recovers fine.", 1.0)
	if err != nil {
		t.Fatalf("unrelated unit failed after earlier error: %v", err)
	}
	if len(res.Audio) == 0 {
		t.Error("expected audio for recovered unit")
	}
}

func TestQueue_AcquireCancellation(t *testing.T) {
	engine := mock.New()
	engine.SetDelay(100 * time.Millisecond)
	q := NewQueue(engine, 3)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = q.Synthesize(context.Background(), 0, "Long running.", 1.0)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Synthesize(ctx, 1, "Waiter.", 1.0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded while waiting for flight lock, got %v", err)
	}
}

func TestFlightLock_FIFOOrder(t *testing.T) {
	var l flightLock
	if err := l.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const waiters = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	ready := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ready <- struct{}{}
			if err := l.acquire(context.Background()); err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.release()
		}(i)
		<-ready
		// Give each goroutine time to enqueue before the next starts,
		// so arrival order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}

	l.release()
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if order[i] != i {
			t.Fatalf("waiters served out of order: %v", order)
		}
	}
}
