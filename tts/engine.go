package tts

import "context"

// ChunkFunc receives one raw PCM chunk from a streaming synthesis call
// together with overall progress in [0,1]. Returning false stops the
// stream; the engine finishes the call without emitting further chunks.
type ChunkFunc func(data []byte, progress float64) bool

// Engine is the synthesis engine contract. Implementations wrap an
// opaque neural runtime; the pipeline only depends on this interface.
//
// Engines are not required to be safe for concurrent use: the synth
// queue serializes all calls.
type Engine interface {
	// Synthesize converts text to audio at the given speed multiplier.
	Synthesize(ctx context.Context, text string, speed float64) (*SynthesisResult, error)

	// SynthesizeStream behaves like Synthesize but additionally invokes
	// fn for every raw chunk as it is produced. The returned result
	// still carries the complete audio.
	SynthesizeStream(ctx context.Context, text string, speed float64, fn ChunkFunc) (*SynthesisResult, error)

	// Name identifies the engine for logging and cache keys.
	Name() string
}

// AcousticModel is the forced-alignment inference contract: frame-wise
// log-probability emissions over a token vocabulary for mono PCM
// samples at SampleRate. The frame count is len(samples)/HopSize().
type AcousticModel interface {
	// Emissions returns a [frames × vocabSize] log-probability matrix.
	Emissions(ctx context.Context, samples []float32) ([][]float32, error)

	// Labels returns the vocabulary; index 0 is the CTC blank.
	Labels() []string

	// HopSize returns the number of samples per emission frame.
	HopSize() int
}

// DocumentSource supplies paragraph text to the pipeline. Document
// acquisition and parsing live outside this module; the coordinator
// only walks paragraphs through this contract.
type DocumentSource interface {
	// ParagraphCount returns the total number of paragraphs.
	ParagraphCount() int

	// Paragraph returns the text of paragraph i, or ok=false when the
	// index is out of range.
	Paragraph(i int) (text string, ok bool)
}

// SliceDocument adapts a slice of paragraph strings to DocumentSource.
type SliceDocument []string

// ParagraphCount implements DocumentSource.
func (d SliceDocument) ParagraphCount() int { return len(d) }

// Paragraph implements DocumentSource.
func (d SliceDocument) Paragraph(i int) (string, bool) {
	if i < 0 || i >= len(d) {
		return "", false
	}
	return d[i], true
}
