// Package highlight emits word-change events against a live playback
// clock so the reader can highlight the word being spoken.
package highlight

import (
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/readalong/readalong/tts"
)

// DefaultUpdateRate is how often the playback clock is sampled.
const DefaultUpdateRate = 50 * time.Millisecond

// Clock reads the current playback position of the sentence being
// spoken. The audio player implements it.
type Clock interface {
	Position() time.Duration
}

// Scheduler resolves the current word from the playback position and
// fires a callback exactly once each time the word changes. It samples
// the clock on a ticker and binary-searches the sorted timing array
// rather than pre-arming one timer per word.
type Scheduler struct {
	updateRate time.Duration

	mu        sync.Mutex
	words     []tts.WordTiming
	clock     Clock
	current   int
	running   bool
	stopCh    chan struct{}
	callbacks []func(wordIndex int)
}

// NewScheduler creates a scheduler sampling at rate; non-positive rate
// uses DefaultUpdateRate.
func NewScheduler(rate time.Duration) *Scheduler {
	if rate <= 0 {
		rate = DefaultUpdateRate
	}
	return &Scheduler{updateRate: rate, current: -1}
}

// OnWordChange registers a callback for word changes. Callbacks fire
// on the scheduler's own goroutine in registration order and are
// dropped by Stop, so a caller tracking per-sentence state registers
// again for each Start.
func (s *Scheduler) OnWordChange(fn func(wordIndex int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Start begins tracking one sentence's alignment against clock. It is
// idempotent: starting a running scheduler replaces the alignment and
// resets the current word.
func (s *Scheduler) Start(alignment *tts.AlignmentResult, clock Clock) {
	if alignment == nil || clock == nil {
		return
	}
	s.mu.Lock()
	s.words = alignment.Words
	s.clock = clock
	s.current = -1
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	log.Debug("highlight: started", "words", len(alignment.Words))
	go s.loop(stop)
}

// Stop cancels pending events, clears the current word, and drops all
// registered callbacks. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	s.words = nil
	s.clock = nil
	s.current = -1
	s.callbacks = nil
}

// CurrentWord returns the index of the word being spoken, or -1 before
// the first tick.
func (s *Scheduler) CurrentWord() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.updateRate)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if !s.running || len(s.words) == 0 || s.clock == nil {
		s.mu.Unlock()
		return
	}
	pos := s.clock.Position().Seconds()
	idx := FindWordIndex(s.words, pos)
	if idx == s.current {
		s.mu.Unlock()
		return
	}
	s.current = idx
	callbacks := make([]func(int), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	for _, fn := range callbacks {
		if fn != nil {
			fn(idx)
		}
	}
}

// FindWordIndex resolves a playback time to a word index in a sorted,
// non-overlapping timing array. Time before the first word resolves to
// word 0 so highlighting starts immediately; time at or past the last
// word's end resolves to the last word so the sentence tail stays
// highlighted; time in a gap between words resolves to the next word.
func FindWordIndex(words []tts.WordTiming, t float64) int {
	if len(words) == 0 {
		return -1
	}
	if t < words[0].Start {
		return 0
	}
	last := len(words) - 1
	if t >= words[last].End() {
		return last
	}
	// First word whose end is past t. Its interval either contains t
	// or starts after t (a gap), and both resolve to that word.
	return sort.Search(len(words), func(i int) bool {
		return words[i].End() > t
	})
}
