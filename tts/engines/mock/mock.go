// Package mock provides a deterministic in-memory synthesis engine for
// testing the pipeline without a neural runtime.
package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/readalong/readalong/tts"
)

// Phoneme pacing for generated audio. Every phoneme gets the same
// duration so total audio length is a pure function of the text.
const (
	phonemeSeconds   = 0.06
	runesPerPhoneme  = 2
	defaultChunkSize = 3200 // 0.1s of 16-bit 16kHz mono
)

// Engine implements tts.Engine with synthetic audio: silence sized to
// the phoneme count, one phoneme group per word, and an identity-ish
// normalized-text mapping (lowercasing only).
type Engine struct {
	mu        sync.Mutex
	delay     time.Duration
	failErr   error
	chunkSize int

	calls     int64
	active    int64
	maxActive int64
}

// New creates a mock engine with no simulated delay.
func New() *Engine {
	return &Engine{chunkSize: defaultChunkSize}
}

// SetDelay sets a simulated per-call processing delay.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// SetFailure makes every subsequent call fail with err; nil clears it.
func (e *Engine) SetFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failErr = err
}

// Name implements tts.Engine.
func (e *Engine) Name() string { return "mock" }

// Calls returns the number of synthesis invocations so far.
func (e *Engine) Calls() int64 { return atomic.LoadInt64(&e.calls) }

// MaxConcurrent returns the highest number of calls observed in flight
// at once. The single-flight guarantee keeps this at 1.
func (e *Engine) MaxConcurrent() int64 { return atomic.LoadInt64(&e.maxActive) }

// Synthesize implements tts.Engine.
func (e *Engine) Synthesize(ctx context.Context, text string, speed float64) (*tts.SynthesisResult, error) {
	atomic.AddInt64(&e.calls, 1)
	n := atomic.AddInt64(&e.active, 1)
	defer atomic.AddInt64(&e.active, -1)
	for {
		max := atomic.LoadInt64(&e.maxActive)
		if n <= max || atomic.CompareAndSwapInt64(&e.maxActive, max, n) {
			break
		}
	}

	e.mu.Lock()
	delay, failErr := e.delay, e.failErr
	e.mu.Unlock()

	if failErr != nil {
		return nil, &tts.SynthesisError{Reason: "mock failure", Err: failErr}
	}
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	if !utf8.ValidString(text) {
		return nil, tts.ErrInvalidEncoding
	}
	if speed <= 0 {
		speed = 1.0
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	normalized := strings.ToLower(text)
	phonemes := makePhonemes(normalized, speed)

	var total float64
	for _, p := range phonemes {
		total += p.Duration
	}
	samples := int(total * float64(tts.SampleRate))
	audio := make([]byte, samples*tts.BytesPerSample)

	return &tts.SynthesisResult{
		Audio:          audio,
		Phonemes:       phonemes,
		OriginalText:   text,
		NormalizedText: normalized,
		CharMap: []tts.CharMapEntry{
			{Original: 0, Normalized: 0},
			{Original: len(text), Normalized: len(normalized)},
		},
	}, nil
}

// SynthesizeStream implements tts.Engine. Chunks are fixed-size slices
// of the full waveform, emitted in order with monotonic progress.
func (e *Engine) SynthesizeStream(ctx context.Context, text string, speed float64, fn tts.ChunkFunc) (*tts.SynthesisResult, error) {
	res, err := e.Synthesize(ctx, text, speed)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return res, nil
	}

	size := e.chunkSize
	for off := 0; off < len(res.Audio); off += size {
		end := off + size
		if end > len(res.Audio) {
			end = len(res.Audio)
		}
		progress := float64(end) / float64(len(res.Audio))
		if !fn(res.Audio[off:end], progress) {
			break
		}
	}
	if len(res.Audio) == 0 {
		// Still signal completion for empty waveforms.
		fn(nil, 1.0)
	}
	return res, nil
}

// makePhonemes emits one group of phonemes per whitespace-separated
// word, all sharing the word's range in the normalized text.
func makePhonemes(normalized string, speed float64) []tts.PhonemeInfo {
	var phonemes []tts.PhonemeInfo
	dur := phonemeSeconds / speed

	pos := 0
	for pos < len(normalized) {
		// Skip leading whitespace.
		for pos < len(normalized) && normalized[pos] == ' ' {
			pos++
		}
		start := pos
		for pos < len(normalized) && normalized[pos] != ' ' {
			pos++
		}
		if pos == start {
			break
		}
		word := normalized[start:pos]
		count := (utf8.RuneCountInString(word) + runesPerPhoneme - 1) / runesPerPhoneme
		if count < 1 {
			count = 1
		}
		r := tts.TextRange{Start: start, Length: pos - start}
		for i := 0; i < count; i++ {
			phonemes = append(phonemes, tts.PhonemeInfo{
				Symbol:    string(word[i*runesPerPhoneme%len(word)]),
				Duration:  dur,
				TextRange: r,
			})
		}
	}
	return phonemes
}
