package align

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/readalong/readalong/tts"
)

// DefaultCacheEntries bounds the in-memory alignment cache.
const DefaultCacheEntries = 128

type cacheKey struct {
	textHash  string
	paragraph int
	speed     float64
}

// Service computes word alignments for synthesized sentences. When an
// acoustic model is attached it runs CTC forced alignment over the
// audio; otherwise (or when inference fails) it matches the engine's
// phoneme timing directly, falling back to DTW. Results are memoized
// in a bounded LRU keyed by (text, paragraph, speed).
type Service struct {
	model tts.AcousticModel
	cache *lru.Cache[cacheKey, *tts.AlignmentResult]
}

// NewService creates an alignment service. model may be nil to disable
// the CTC strategy.
func NewService(model tts.AcousticModel, cacheEntries int) (*Service, error) {
	if cacheEntries <= 0 {
		cacheEntries = DefaultCacheEntries
	}
	c, err := lru.New[cacheKey, *tts.AlignmentResult](cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("alignment cache: %w", err)
	}
	return &Service{model: model, cache: c}, nil
}

// Align produces word timings for one synthesized sentence. wordRanges
// is the optional display-word position map from the source document;
// when present the normalized-text mapping strategy is preferred over
// whitespace splitting. A nil result with nil error means no words
// could be placed; audio still plays without highlighting.
func (s *Service) Align(ctx context.Context, paragraphIndex int, res *tts.SynthesisResult, wordRanges []tts.TextRange, speed float64) (*tts.AlignmentResult, error) {
	if res == nil || len(res.Audio) == 0 && len(res.Phonemes) == 0 {
		return nil, tts.ErrEmptyAudio
	}

	key := cacheKey{textHash: hashText(res.OriginalText), paragraph: paragraphIndex, speed: speed}
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	var result *tts.AlignmentResult
	if s.model != nil && len(res.Audio) > 0 {
		ctcResult, err := s.alignCTC(ctx, paragraphIndex, res)
		if err != nil {
			log.Warn("align: forced alignment failed, falling back to phoneme timing",
				"paragraph", paragraphIndex, "err", err)
		} else {
			result = ctcResult
		}
	}
	if result == nil && len(wordRanges) > 0 {
		result = alignWithPositions(res, wordRanges, paragraphIndex)
	}
	if result == nil {
		result = alignDirect(res, paragraphIndex)
	}
	if result == nil {
		result = alignDTW(res, paragraphIndex)
	}
	if result == nil {
		return nil, tts.ErrNoTimestamps
	}

	s.cache.Add(key, result)
	return result, nil
}

// alignCTC runs the acoustic model over the audio and force-aligns the
// transcript characters against its emissions.
func (s *Service) alignCTC(ctx context.Context, paragraphIndex int, res *tts.SynthesisResult) (*tts.AlignmentResult, error) {
	if s.model == nil {
		return nil, tts.ErrModelNotInitialized
	}

	samples := pcmToFloat32(res.Audio)
	if len(samples) == 0 {
		return nil, tts.ErrEmptyAudio
	}

	emissions, err := s.model.Emissions(ctx, samples)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tts.ErrInferenceFailed, err)
	}

	labels := make(map[string]int, len(s.model.Labels()))
	for i, l := range s.model.Labels() {
		labels[l] = i
	}

	// Tokenize the transcript: one token per vocabulary character,
	// tracking how many tokens belong to each display word. Characters
	// outside the vocabulary are skipped.
	words := displayWords(res.OriginalText)
	var tokens []int
	tokensPerWord := make([]int, len(words))
	for wi, wr := range words {
		for _, r := range strings.ToLower(res.OriginalText[wr.Start:wr.End()]) {
			idx, ok := labels[string(r)]
			if !ok {
				continue
			}
			tokens = append(tokens, idx)
			tokensPerWord[wi]++
		}
	}
	if len(tokens) == 0 {
		return nil, tts.ErrNoTimestamps
	}

	spans, err := AlignTokens(emissions, tokens)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, tts.ErrNoTimestamps
	}

	frameSeconds := float64(s.model.HopSize()) / float64(tts.SampleRate)
	total := res.Duration()

	// Fold token spans back into per-word time ranges.
	var timings []tts.WordTiming
	si := 0
	tokenBase := 0
	for wi, wr := range words {
		count := tokensPerWord[wi]
		if count == 0 {
			tokenBase += count
			continue
		}
		first, last := -1, -1
		for si < len(spans) && spans[si].Token < tokenBase+count {
			if first < 0 {
				first = spans[si].StartFrame
			}
			last = spans[si].EndFrame
			si++
		}
		tokenBase += count
		if first < 0 {
			continue
		}
		start := float64(first) * frameSeconds
		end := float64(last) * frameSeconds
		if total > 0 && end > total {
			end = total
		}
		timings = append(timings, tts.WordTiming{
			WordIndex: len(timings),
			Start:     start,
			Duration:  end - start,
			Text:      res.OriginalText[wr.Start:wr.End()],
			TextRange: wr,
		})
	}
	if len(timings) == 0 {
		return nil, tts.ErrNoTimestamps
	}

	return &tts.AlignmentResult{
		ParagraphIndex: paragraphIndex,
		TotalDuration:  total,
		Words:          timings,
	}, nil
}

// pcmToFloat32 converts 16-bit LE PCM into model input samples.
func pcmToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/tts.BytesPerSample)
	for i := range samples {
		s := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
