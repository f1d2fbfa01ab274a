// Package tts defines the core types and contracts of the readalong
// synthesis and alignment pipeline: synthesized audio with phoneme
// timing, word-level alignment results, and the identity of a unit of
// work as it moves from splitting through synthesis to playback.
package tts

import (
	"fmt"
	"time"
)

// Audio format constants. The pipeline operates on 16-bit little-endian
// mono PCM at a fixed sample rate; the forced-alignment acoustic model
// expects the same rate.
const (
	// SampleRate is the sample rate of all PCM audio in the pipeline.
	SampleRate = 16000
	// BytesPerSample is the size of one mono 16-bit sample.
	BytesPerSample = 2
)

// TextRange is a half-open character range [Start, Start+Length) into
// some text. Which text depends on context: PhonemeInfo ranges are in
// the engine's normalized-text coordinates, WordTiming ranges in the
// original sentence.
type TextRange struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// End returns the exclusive end position of the range.
func (r TextRange) End() int { return r.Start + r.Length }

// PhonemeInfo describes one synthesized phoneme.
type PhonemeInfo struct {
	// Symbol is the phoneme symbol as reported by the engine.
	Symbol string
	// Duration is the phoneme duration in seconds.
	Duration float64
	// TextRange locates the phoneme in the engine's normalized text.
	// Consecutive phonemes sharing a range belong to one spoken word.
	TextRange TextRange
}

// CharMapEntry is one segment boundary of the original→normalized text
// mapping reported by the synthesis engine. Entries are monotonically
// increasing in both coordinates; positions between two entries are
// interpolated proportionally within the segment.
type CharMapEntry struct {
	Original   int
	Normalized int
}

// SynthesisResult is the complete output of one engine call.
type SynthesisResult struct {
	// Audio is raw 16-bit LE mono PCM.
	Audio []byte
	// Phonemes lists every synthesized phoneme in order.
	Phonemes []PhonemeInfo
	// OriginalText is the text passed to the engine.
	OriginalText string
	// NormalizedText is the text the engine actually spoke.
	NormalizedText string
	// CharMap maps original to normalized character positions.
	CharMap []CharMapEntry
}

// Duration returns the audio duration in seconds.
func (r *SynthesisResult) Duration() float64 {
	if r == nil {
		return 0
	}
	return float64(len(r.Audio)/BytesPerSample) / float64(SampleRate)
}

// WordTiming is the time span of one display word within a sentence.
type WordTiming struct {
	WordIndex int       `json:"word_index"`
	Start     float64   `json:"start_time"`
	Duration  float64   `json:"duration"`
	Text      string    `json:"text"`
	TextRange TextRange `json:"range"`
}

// End returns the end time of the word. It is derived, never stored.
func (w WordTiming) End() float64 { return w.Start + w.Duration }

// AlignmentResult holds the word timings for one sentence or paragraph.
// Words are sorted ascending by start time, intervals do not overlap,
// and the last end time never exceeds TotalDuration by more than a
// millisecond of floating drift.
type AlignmentResult struct {
	ParagraphIndex int          `json:"paragraph_index"`
	TotalDuration  float64      `json:"total_duration"`
	Words          []WordTiming `json:"word_timings"`
}

// SentenceKey identifies one unit of synthesis/alignment work within a
// document traversal.
type SentenceKey struct {
	Paragraph int
	Sentence  int
}

func (k SentenceKey) String() string {
	return fmt.Sprintf("p%d/s%d", k.Paragraph, k.Sentence)
}

// ReadySentence is a fully processed unit awaiting consumption: its
// synthesis has completed and, when alignment is enabled, its word
// timings are attached. It exists only between pipeline completion and
// the consumer taking it.
type ReadySentence struct {
	Key SentenceKey
	// Chunks are the raw streamed audio buffers in emission order.
	// Concatenating them reconstructs the sentence waveform losslessly.
	Chunks [][]byte
	// Alignment is nil when word highlighting is disabled or the
	// alignment for this sentence failed (audio still plays).
	Alignment *AlignmentResult
	Text      string
	// SentenceOffset is the byte offset of the sentence within its
	// paragraph.
	SentenceOffset int
}

// CombinedAudio concatenates the chunks into one PCM buffer.
func (rs *ReadySentence) CombinedAudio() []byte {
	var n int
	for _, c := range rs.Chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range rs.Chunks {
		out = append(out, c...)
	}
	return out
}

// Bytes returns the total byte size of the buffered chunks, used for
// ready-buffer accounting.
func (rs *ReadySentence) Bytes() int64 {
	var n int64
	for _, c := range rs.Chunks {
		n += int64(len(c))
	}
	return n
}

// AudioDuration returns the playback duration of the buffered audio.
func (rs *ReadySentence) AudioDuration() time.Duration {
	samples := rs.Bytes() / BytesPerSample
	return time.Duration(float64(samples) / float64(SampleRate) * float64(time.Second))
}
