// Package synth wraps a synthesis engine behind a single-flight queue
// with a small positional look-ahead cache.
package synth

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/readalong/readalong/tts"
)

// DefaultLookahead is the number of sentences past the current one
// whose results stay cached.
const DefaultLookahead = 3

// Queue serializes calls to a synthesis engine and caches the last few
// results by sentence index. The cache is positional, not an LRU: on
// playback advance only [current, current+lookahead] survive, and a
// speed change invalidates everything.
type Queue struct {
	engine    tts.Engine
	flight    flightLock
	lookahead int

	mu         sync.Mutex
	speed      float64
	cache      map[int]*tts.SynthesisResult
	inProgress map[int]bool
}

// NewQueue creates a queue around engine with the given look-ahead
// cache size.
func NewQueue(engine tts.Engine, lookahead int) *Queue {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Queue{
		engine:     engine,
		lookahead:  lookahead,
		speed:      1.0,
		cache:      make(map[int]*tts.SynthesisResult),
		inProgress: make(map[int]bool),
	}
}

// Synthesize returns the synthesis result for the sentence at index,
// reusing a cached result when the speed matches. At most one engine
// call executes at a time across all callers; waiters are served in
// arrival order.
func (q *Queue) Synthesize(ctx context.Context, index int, text string, speed float64) (*tts.SynthesisResult, error) {
	if q.engine == nil {
		return nil, tts.ErrEngineNotInitialized
	}

	q.mu.Lock()
	if speed == q.speed {
		if res, ok := q.cache[index]; ok {
			q.mu.Unlock()
			log.Debug("synth: cache hit", "index", index)
			return res, nil
		}
	} else {
		// Speed changed: every cached waveform is stale.
		q.invalidateLocked(speed)
	}
	q.inProgress[index] = true
	q.mu.Unlock()

	if err := q.flight.acquire(ctx); err != nil {
		q.dropInProgress(index)
		return nil, err
	}
	defer q.flight.release()

	// Another caller may have filled the cache while we waited.
	q.mu.Lock()
	if res, ok := q.cache[index]; ok && speed == q.speed {
		delete(q.inProgress, index)
		q.mu.Unlock()
		return res, nil
	}
	q.mu.Unlock()

	res, err := q.engine.Synthesize(ctx, text, speed)
	if err != nil {
		q.dropInProgress(index)
		log.Warn("synth: synthesis failed", "index", index, "err", err)
		return nil, err
	}

	q.mu.Lock()
	delete(q.inProgress, index)
	if speed == q.speed {
		q.cache[index] = res
	}
	q.mu.Unlock()
	return res, nil
}

// SynthesizeStream behaves like Synthesize but forwards raw chunks to
// fn as the engine emits them. Streamed calls bypass the result cache
// read path only when the cached entry is absent; a cached result is
// replayed to fn in one chunk.
func (q *Queue) SynthesizeStream(ctx context.Context, index int, text string, speed float64, fn tts.ChunkFunc) (*tts.SynthesisResult, error) {
	if q.engine == nil {
		return nil, tts.ErrEngineNotInitialized
	}

	q.mu.Lock()
	if speed == q.speed {
		if res, ok := q.cache[index]; ok {
			q.mu.Unlock()
			if fn != nil {
				fn(res.Audio, 1.0)
			}
			return res, nil
		}
	} else {
		q.invalidateLocked(speed)
	}
	q.inProgress[index] = true
	q.mu.Unlock()

	if err := q.flight.acquire(ctx); err != nil {
		q.dropInProgress(index)
		return nil, err
	}
	defer q.flight.release()

	// Another caller may have filled the cache while we waited; replay
	// the cached waveform instead of hitting the engine again.
	q.mu.Lock()
	if res, ok := q.cache[index]; ok && speed == q.speed {
		delete(q.inProgress, index)
		q.mu.Unlock()
		if fn != nil {
			fn(res.Audio, 1.0)
		}
		return res, nil
	}
	q.mu.Unlock()

	res, err := q.engine.SynthesizeStream(ctx, text, speed, fn)
	if err != nil {
		q.dropInProgress(index)
		log.Warn("synth: streaming synthesis failed", "index", index, "err", err)
		return nil, err
	}

	q.mu.Lock()
	delete(q.inProgress, index)
	if speed == q.speed {
		q.cache[index] = res
	}
	q.mu.Unlock()
	return res, nil
}

// SetSpeed invalidates the cache wholesale when the speed changes.
func (q *Queue) SetSpeed(speed float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if speed != q.speed {
		q.invalidateLocked(speed)
	}
}

// Advance evicts cached results behind the playback position, keeping
// only the forward window [current, current+lookahead].
func (q *Queue) Advance(current int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for idx := range q.cache {
		if idx < current || idx > current+q.lookahead {
			delete(q.cache, idx)
		}
	}
}

// CachedCount returns the number of cached synthesis results.
func (q *Queue) CachedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cache)
}

func (q *Queue) invalidateLocked(speed float64) {
	if len(q.cache) > 0 {
		log.Debug("synth: speed change, dropping cache", "old", q.speed, "new", speed, "entries", len(q.cache))
	}
	q.speed = speed
	q.cache = make(map[int]*tts.SynthesisResult)
}

func (q *Queue) dropInProgress(index int) {
	q.mu.Lock()
	delete(q.inProgress, index)
	q.mu.Unlock()
}
