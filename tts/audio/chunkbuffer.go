// Package audio provides PCM chunk accumulation, format helpers, WAV
// file IO, and an oto-backed playback sink for the pipeline.
package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/readalong/readalong/tts"
)

// DefaultMaxBufferBytes is the global ceiling for buffered raw chunks.
const DefaultMaxBufferBytes = 32 * 1024 * 1024

// ChunkBuffer errors.
var (
	ErrEmptyChunk     = errors.New("empty audio chunk")
	ErrUnalignedChunk = errors.New("chunk is not sample-aligned")
	ErrBufferCeiling  = errors.New("chunk buffer byte ceiling reached")
)

type chunkEntry struct {
	chunks   [][]byte
	bytes    int64
	complete bool
}

// ChunkBuffer accumulates raw streamed audio chunks per sentence. A
// unit's chunks become takeable only after MarkComplete; Take removes
// them atomically. One hard byte ceiling covers all sentences.
type ChunkBuffer struct {
	mu       sync.Mutex
	entries  map[tts.SentenceKey]*chunkEntry
	total    int64
	maxBytes int64

	hits    uint64
	misses  uint64
	dropped uint64
}

// NewChunkBuffer creates a buffer with the given global byte ceiling.
// Non-positive maxBytes uses DefaultMaxBufferBytes.
func NewChunkBuffer(maxBytes int64) *ChunkBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferBytes
	}
	return &ChunkBuffer{
		entries:  make(map[tts.SentenceKey]*chunkEntry),
		maxBytes: maxBytes,
	}
}

// Add appends one raw chunk for key. Empty chunks, chunks that are not
// aligned to whole 16-bit samples, and chunks that would exceed the
// global ceiling are rejected; dropped chunks are logged, not retried.
func (b *ChunkBuffer) Add(key tts.SentenceKey, chunk []byte) error {
	if len(chunk) == 0 {
		return ErrEmptyChunk
	}
	if len(chunk)%tts.BytesPerSample != 0 {
		log.Warn("chunkbuffer: dropping unaligned chunk", "key", key, "bytes", len(chunk))
		return ErrUnalignedChunk
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total+int64(len(chunk)) > b.maxBytes {
		b.dropped++
		log.Warn("chunkbuffer: ceiling reached, dropping chunk",
			"key", key, "chunk", humanize.Bytes(uint64(len(chunk))),
			"buffered", humanize.Bytes(uint64(b.total)))
		return ErrBufferCeiling
	}

	e := b.entries[key]
	if e == nil {
		e = &chunkEntry{}
		b.entries[key] = e
	}
	// Copy: the producer may reuse its chunk backing array.
	c := make([]byte, len(chunk))
	copy(c, chunk)
	e.chunks = append(e.chunks, c)
	e.bytes += int64(len(c))
	b.total += int64(len(c))
	return nil
}

// MarkComplete records that the producer has emitted every chunk for
// key. Valid for sentences with zero chunks (an empty waveform).
func (b *ChunkBuffer) MarkComplete(key tts.SentenceKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[key]
	if e == nil {
		e = &chunkEntry{}
		b.entries[key] = e
	}
	e.complete = true
}

// Take atomically removes and returns the chunks for key. It returns
// nil when the unit is absent or not yet complete; a complete unit with
// no chunks yields an empty non-nil slice, distinguishing "not ready"
// from "ready but empty".
func (b *ChunkBuffer) Take(key tts.SentenceKey) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entries[key]
	if e == nil || !e.complete {
		b.misses++
		return nil
	}
	delete(b.entries, key)
	b.total -= e.bytes
	b.hits++
	if e.chunks == nil {
		return [][]byte{}
	}
	return e.chunks
}

// Drop discards any accumulated chunks for key.
func (b *ChunkBuffer) Drop(key tts.SentenceKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		b.total -= e.bytes
		delete(b.entries, key)
	}
}

// Clear discards every buffered chunk.
func (b *ChunkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[tts.SentenceKey]*chunkEntry)
	b.total = 0
}

// BufferedBytes returns the total bytes currently held.
func (b *ChunkBuffer) BufferedBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Stats returns a diagnostics summary.
func (b *ChunkBuffer) Stats() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("chunkbuffer: entries=%d buffered=%s hits=%d misses=%d dropped=%d",
		len(b.entries), humanize.Bytes(uint64(b.total)), b.hits, b.misses, b.dropped)
}
