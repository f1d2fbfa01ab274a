// Package pipeline coordinates the full synthesis-and-alignment flow:
// it walks the document position across paragraph boundaries, keeps a
// bounded look-ahead of ready sentences, and hands them to the
// consumer in order with backpressure and session-based cancellation.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/readalong/readalong/tts"
	"github.com/readalong/readalong/tts/align"
	"github.com/readalong/readalong/tts/audio"
	"github.com/readalong/readalong/tts/synth"
)

// Defaults for the ready buffer and polling budgets.
const (
	DefaultMaxLookahead    = 4
	DefaultMaxParagraphs   = 3
	DefaultMaxBufferBytes  = 16 << 20
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultMaxPollAttempts = 600
)

// Config bounds the pipeline's memory and wait behavior. Zero values
// take the package defaults.
type Config struct {
	// MaxLookahead caps how many ready sentences are buffered ahead
	// of the consumer.
	MaxLookahead int
	// MaxParagraphs caps the paragraph text/split window.
	MaxParagraphs int
	// MaxBufferBytes caps the total audio bytes held in the ready
	// buffer.
	MaxBufferBytes int64
	// PollInterval and MaxPollAttempts bound WaitAndTake: the base
	// wait is their product, extended by the requested sentence's
	// estimated duration.
	PollInterval    time.Duration
	MaxPollAttempts int
	// Speed is the initial synthesis speed multiplier.
	Speed float64
	// DocumentID keys the durable alignment cache; ignored when no
	// disk cache is attached.
	DocumentID string
}

func (c Config) withDefaults() Config {
	if c.MaxLookahead <= 0 {
		c.MaxLookahead = DefaultMaxLookahead
	}
	if c.MaxParagraphs <= 0 {
		c.MaxParagraphs = DefaultMaxParagraphs
	}
	if c.MaxBufferBytes <= 0 {
		c.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if c.Speed <= 0 {
		c.Speed = 1.0
	}
	return c
}

// ReadyQueue is the pipeline coordinator. A background worker
// synthesizes and aligns sentences ahead of the consumer, bounded by
// the ready-buffer budgets; WaitAndTake drains them in document order.
//
// Sentence state machine: a key is unprocessed until the worker marks
// it processing; completed work lands in the ready map or the skipped
// set. Work whose session was invalidated mid-flight touches neither,
// so the key is reprocessed under the new session.
type ReadyQueue struct {
	queue   *synth.Queue
	aligner *align.Service
	disk    *align.DiskCache
	chunks  *audio.ChunkBuffer
	source  tts.DocumentSource
	cfg     Config

	mu         sync.Mutex
	session    uint64
	window     *paragraphWindow
	ready      map[tts.SentenceKey]*tts.ReadySentence
	skipped    map[tts.SentenceKey]bool
	processing map[tts.SentenceKey]bool
	readyBytes int64
	speed      float64
	current    tts.SentenceKey
	next       tts.SentenceKey
	// ordinals gives each sentence a stable index into the positional
	// synthesis cache, so a retry of the same sentence hits the cached
	// result instead of re-synthesizing.
	ordinals    map[tts.SentenceKey]int
	nextOrdinal int
	workerUp    bool
	stopped     bool
}

// New creates a pipeline over a document source. aligner and disk may
// be nil: without an aligner sentences carry audio only, without a
// disk cache alignments are recomputed per run.
func New(engine tts.Engine, source tts.DocumentSource, aligner *align.Service, disk *align.DiskCache, cfg Config) *ReadyQueue {
	cfg = cfg.withDefaults()
	r := &ReadyQueue{
		queue:      synth.NewQueue(engine, cfg.MaxLookahead),
		aligner:    aligner,
		disk:       disk,
		chunks:     audio.NewChunkBuffer(cfg.MaxBufferBytes),
		source:     source,
		cfg:        cfg,
		ready:      make(map[tts.SentenceKey]*tts.ReadySentence),
		skipped:    make(map[tts.SentenceKey]bool),
		processing: make(map[tts.SentenceKey]bool),
		ordinals:   make(map[tts.SentenceKey]int),
		speed:      cfg.Speed,
	}
	r.window = newParagraphWindow(source, cfg.MaxParagraphs, r.evictParagraphLocked)
	return r
}

// StartFrom repositions the pipeline. Any in-flight work is
// invalidated by bumping the session; buffered sentences at or after
// the new position are kept when the position itself is already
// buffered, otherwise the buffer is reset.
func (r *ReadyQueue) StartFrom(paragraph, sentence int) {
	key := tts.SentenceKey{Paragraph: paragraph, Sentence: sentence}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.session++

	// Abandoned work must be retried under the new session.
	for k := range r.processing {
		delete(r.processing, k)
	}

	_, reachable := r.ready[key]
	if !reachable {
		for k, rs := range r.ready {
			r.readyBytes -= rs.Bytes()
			delete(r.ready, k)
		}
		r.chunks.Clear()
		r.skipped = make(map[tts.SentenceKey]bool)
	} else {
		for k, rs := range r.ready {
			if keyBefore(k, key) {
				r.readyBytes -= rs.Bytes()
				delete(r.ready, k)
			}
		}
		for k := range r.skipped {
			if keyBefore(k, key) {
				delete(r.skipped, k)
			}
		}
	}

	r.current = key
	r.next = key
	r.window.slideTo(paragraph)
	r.kickLocked()
	log.Debug("pipeline: start", "key", key, "session", r.session, "preserved", reachable)
}

// WaitAndTake blocks until the sentence is ready, then removes it from
// the buffer and returns it. It advances the playback cursor, slides
// the paragraph window, and restarts the worker if it went idle. A
// skipped sentence returns ErrSentenceSkipped; exhausting the poll
// budget returns ErrWaitTimeout.
func (r *ReadyQueue) WaitAndTake(paragraph, sentence int) (*tts.ReadySentence, error) {
	key := tts.SentenceKey{Paragraph: paragraph, Sentence: sentence}

	budget := r.cfg.MaxPollAttempts
	for attempt := 0; attempt < budget; attempt++ {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return nil, tts.ErrQueueStopped
		}
		// The consumer's position is authoritative: asking for a later
		// unit slides the window forward so the worker can follow.
		if keyBefore(r.current, key) {
			r.current = key
			if keyBefore(r.next, key) {
				r.next = key
			}
			r.window.slideTo(key.Paragraph)
		}
		if attempt == 0 {
			budget += r.pollBudgetExtraLocked(key)
		}
		if rs, ok := r.ready[key]; ok {
			delete(r.ready, key)
			r.readyBytes -= rs.Bytes()
			r.current = key
			ord, hasOrd := r.ordinals[key]
			r.window.slideTo(key.Paragraph)
			r.kickLocked()
			r.mu.Unlock()
			if hasOrd {
				r.queue.Advance(ord)
			}
			return rs, nil
		}
		if r.skipped[key] {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", tts.ErrSentenceSkipped, key)
		}
		r.kickLocked()
		r.mu.Unlock()
		time.Sleep(r.cfg.PollInterval)
	}
	return nil, fmt.Errorf("%w: %s", tts.ErrWaitTimeout, key)
}

// SetSpeed changes the synthesis speed. Buffered and in-flight work
// was produced at the old speed, so everything is invalidated and the
// pipeline restarts from the current position.
func (r *ReadyQueue) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || speed == r.speed {
		return
	}
	r.speed = speed
	r.queue.SetSpeed(speed)
	r.session++
	for k, rs := range r.ready {
		r.readyBytes -= rs.Bytes()
		delete(r.ready, k)
	}
	r.chunks.Clear()
	r.skipped = make(map[tts.SentenceKey]bool)
	r.processing = make(map[tts.SentenceKey]bool)
	r.next = r.current
	r.kickLocked()
	log.Debug("pipeline: speed changed", "speed", speed)
}

// Stop shuts the pipeline down. In-flight work is abandoned via the
// session bump; subsequent calls are no-ops.
func (r *ReadyQueue) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	r.session++
	for k, rs := range r.ready {
		r.readyBytes -= rs.Bytes()
		delete(r.ready, k)
	}
	r.chunks.Clear()
	r.skipped = make(map[tts.SentenceKey]bool)
	r.processing = make(map[tts.SentenceKey]bool)
	log.Debug("pipeline: stopped")
}

// ReadyCount reports how many sentences are buffered ahead of the
// consumer.
func (r *ReadyQueue) ReadyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

// BufferedBytes reports the audio bytes held in the ready buffer.
func (r *ReadyQueue) BufferedBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readyBytes
}

// WindowSize reports how many paragraphs the sliding window holds.
func (r *ReadyQueue) WindowSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.window.size()
}

// Stats returns a human-readable diagnostics line.
func (r *ReadyQueue) Stats() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("ready=%d buffered=%s window=%d session=%d",
		len(r.ready), humanize.Bytes(uint64(r.readyBytes)), r.window.size(), r.session)
}

// kickLocked starts the background worker if it is not running.
// Callers hold r.mu.
func (r *ReadyQueue) kickLocked() {
	if r.workerUp || r.stopped {
		return
	}
	r.workerUp = true
	go r.worker(r.session)
}

// worker is the background producer: it claims the next unprocessed
// sentence and runs synthesis+alignment for it, until the buffer
// budgets fill, the document ends, or the session changes. It exits by
// clearing workerUp so the consumer can kick a fresh one.
func (r *ReadyQueue) worker(session uint64) {
	for {
		r.mu.Lock()
		if r.stopped || session != r.session {
			r.workerUp = false
			r.mu.Unlock()
			return
		}
		if len(r.ready) >= r.cfg.MaxLookahead || r.readyBytes >= r.cfg.MaxBufferBytes {
			r.workerUp = false
			r.mu.Unlock()
			return
		}
		key, text, offset, ok := r.nextUnitLocked()
		if !ok {
			r.workerUp = false
			r.mu.Unlock()
			return
		}
		r.processing[key] = true
		ord := r.ordinalLocked(key)
		speed := r.speed
		r.mu.Unlock()

		r.process(session, ord, key, text, offset, speed)
	}
}

// nextUnitLocked scans forward from the cursor, across paragraph
// boundaries, for the first sentence not yet processing, ready, or
// skipped. ok is false at end of document. Callers hold r.mu.
func (r *ReadyQueue) nextUnitLocked() (key tts.SentenceKey, text string, offset int, ok bool) {
	total := r.source.ParagraphCount()
	for {
		if r.next.Paragraph >= total {
			return tts.SentenceKey{}, "", 0, false
		}
		// Stay inside the consumer's paragraph window: fetching
		// further ahead would evict paragraphs it has not consumed.
		if r.next.Paragraph >= r.current.Paragraph+r.cfg.MaxParagraphs {
			return tts.SentenceKey{}, "", 0, false
		}
		chunks, found := r.window.chunks(r.next.Paragraph)
		if !found || r.next.Sentence >= len(chunks) {
			r.next = tts.SentenceKey{Paragraph: r.next.Paragraph + 1}
			continue
		}
		key = r.next
		r.next.Sentence++
		if r.processing[key] || r.skipped[key] {
			continue
		}
		if _, buffered := r.ready[key]; buffered {
			continue
		}
		c := chunks[key.Sentence]
		return key, c.Text, c.Start, true
	}
}

// ordinalLocked returns the sentence's index into the positional
// synthesis cache, assigning the next free one on first claim. The
// assignment survives session bumps so a retried sentence reuses its
// cached synthesis. Callers hold r.mu.
func (r *ReadyQueue) ordinalLocked(key tts.SentenceKey) int {
	if ord, ok := r.ordinals[key]; ok {
		return ord
	}
	ord := r.nextOrdinal
	r.nextOrdinal++
	r.ordinals[key] = ord
	return ord
}

// pollBudgetExtraLocked grows the WaitAndTake poll budget by the
// requested sentence's estimated duration, so a long sentence's cold
// synthesis does not trip the fixed attempt cap. Callers hold r.mu.
func (r *ReadyQueue) pollBudgetExtraLocked(key tts.SentenceKey) int {
	if key.Paragraph < r.current.Paragraph ||
		key.Paragraph >= r.current.Paragraph+r.cfg.MaxParagraphs {
		return 0
	}
	chunks, ok := r.window.chunks(key.Paragraph)
	if !ok || key.Sentence >= len(chunks) {
		return 0
	}
	est := r.window.splitter.EstimateDuration(chunks[key.Sentence].Text, r.speed)
	return int(est / r.cfg.PollInterval)
}

// process runs synthesis and alignment for one sentence. Every
// completion path re-checks the session: stale work must leave the
// sentence unprocessed rather than marking it ready or skipped.
func (r *ReadyQueue) process(session uint64, ord int, key tts.SentenceKey, text string, offset int, speed float64) {
	if strings.TrimSpace(text) == "" {
		r.finishSkipped(session, key, nil)
		return
	}

	ctx := context.Background()
	first := true
	res, err := r.queue.SynthesizeStream(ctx, ord, text, speed, func(chunk []byte, _ float64) bool {
		if first {
			// We hold the synthesis lock, so no other attempt can be
			// streaming into this key: clear any residue a stale
			// attempt abandoned.
			r.chunks.Drop(key)
			first = false
		}
		if len(chunk) > 0 {
			if err := r.chunks.Add(key, chunk); err != nil {
				log.Warn("pipeline: chunk dropped", "key", key, "err", err)
			}
		}
		return r.sessionCurrent(session)
	})
	if err != nil {
		r.finishSkipped(session, key, err)
		return
	}
	// The session check and the chunk drain must be one atomic step:
	// session bumps happen under r.mu, so while we hold it with the
	// session verified current, no retry can have been claimed for this
	// key and nothing else is streaming into it. A stale attempt leaves
	// the chunks alone, because a retry may already own them and it
	// cleared any residue before starting.
	r.mu.Lock()
	if r.stopped || session != r.session {
		r.mu.Unlock()
		return
	}
	r.chunks.MarkComplete(key)
	buffers := r.chunks.Take(key)
	r.mu.Unlock()
	if buffers == nil {
		return
	}

	var alignment *tts.AlignmentResult
	if r.aligner != nil {
		alignment = r.alignSentence(ctx, key, res, speed)
	}

	r.finishReady(session, &tts.ReadySentence{
		Key:            key,
		Chunks:         buffers,
		Alignment:      alignment,
		Text:           text,
		SentenceOffset: offset,
	})
}

// alignSentence computes (or loads) one sentence's word timings.
// Alignment failure degrades to audio-without-highlighting and cache
// failures are logged but never propagate.
func (r *ReadyQueue) alignSentence(ctx context.Context, key tts.SentenceKey, res *tts.SynthesisResult, speed float64) *tts.AlignmentResult {
	if r.disk != nil {
		cached, ok, err := r.disk.Load(r.cfg.DocumentID, key, speed)
		if err != nil {
			log.Warn("pipeline: alignment cache read failed", "key", key, "err", err)
		} else if ok {
			return cached
		}
	}

	alignment, err := r.aligner.Align(ctx, key.Paragraph, res, nil, speed)
	if err != nil {
		log.Warn("pipeline: alignment failed", "key", key, "err", err)
		return nil
	}
	if r.disk != nil {
		if err := r.disk.Save(r.cfg.DocumentID, key, speed, alignment); err != nil {
			log.Warn("pipeline: alignment cache write failed", "key", key, "err", err)
		}
	}
	return alignment
}

func (r *ReadyQueue) finishReady(session uint64, rs *tts.ReadySentence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || session != r.session {
		return
	}
	delete(r.processing, rs.Key)
	if rs.Key.Paragraph < r.current.Paragraph {
		// The window already slid past this paragraph.
		return
	}
	r.ready[rs.Key] = rs
	r.readyBytes += rs.Bytes()
}

func (r *ReadyQueue) finishSkipped(session uint64, key tts.SentenceKey, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || session != r.session {
		return
	}
	delete(r.processing, key)
	r.chunks.Drop(key)
	if key.Paragraph < r.current.Paragraph {
		return
	}
	r.skipped[key] = true
	if cause != nil {
		log.Warn("pipeline: sentence skipped", "key", key, "err", cause)
	}
}

func (r *ReadyQueue) sessionCurrent(session uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.stopped && session == r.session
}

// evictParagraphLocked drops every sentence entry belonging to an
// evicted paragraph. Runs via the window callback while r.mu is held.
func (r *ReadyQueue) evictParagraphLocked(paragraph int) {
	for k, rs := range r.ready {
		if k.Paragraph == paragraph {
			r.readyBytes -= rs.Bytes()
			delete(r.ready, k)
		}
	}
	for k := range r.skipped {
		if k.Paragraph == paragraph {
			delete(r.skipped, k)
		}
	}
	for k := range r.processing {
		if k.Paragraph == paragraph {
			delete(r.processing, k)
			r.chunks.Drop(k)
		}
	}
	for k := range r.ordinals {
		if k.Paragraph == paragraph {
			delete(r.ordinals, k)
		}
	}
}

func keyBefore(a, b tts.SentenceKey) bool {
	if a.Paragraph != b.Paragraph {
		return a.Paragraph < b.Paragraph
	}
	return a.Sentence < b.Sentence
}
