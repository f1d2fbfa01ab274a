// Package align computes word-level time spans for synthesized audio.
// Two strategies coexist: CTC forced alignment over an acoustic model's
// emission matrix, and phoneme-group matching against the synthesizer's
// own timing output with a DTW fallback. Results are cached in memory
// and, per document, on disk.
package align

import (
	"math"

	"github.com/readalong/readalong/tts"
)

// oovScore is the emission score assigned to out-of-vocabulary token
// indices so they are avoided rather than crashing the recurrence.
const oovScore = -1e30

// TokenSpan is one aligned token: the frames [StartFrame, EndFrame)
// during which the token is emitted.
type TokenSpan struct {
	Token      int // index into the input token sequence
	StartFrame int
	EndFrame   int
}

// AlignTokens force-aligns tokens (vocabulary indices, no blanks)
// against a [frames × vocabSize] log-probability emission matrix and
// returns one span per emitted token occurrence.
//
// The trellis has 2·len(tokens)+1 states alternating blank and token.
// A transition may skip the blank between two consecutive tokens only
// when they differ; repeated tokens require an explicit blank, which is
// the CTC rule separating this from plain Viterbi.
func AlignTokens(emissions [][]float32, tokens []int) ([]TokenSpan, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(emissions) == 0 {
		return nil, tts.ErrNoTimestamps
	}

	frames := len(emissions)
	numStates := 2*len(tokens) + 1

	label := func(s int) int {
		if s%2 == 0 {
			return 0 // blank
		}
		return tokens[(s-1)/2]
	}
	score := func(t, lab int) float64 {
		if lab < 0 || lab >= len(emissions[t]) {
			return oovScore
		}
		return float64(emissions[t][lab])
	}
	// canSkip reports whether state s may be entered from s-2: only
	// token states whose token differs from the token two states back.
	canSkip := func(s int) bool {
		return s%2 == 1 && s >= 3 && tokens[(s-1)/2] != tokens[(s-3)/2]
	}

	trellis := make([][]float64, frames)
	for t := range trellis {
		trellis[t] = make([]float64, numStates)
		for s := range trellis[t] {
			trellis[t][s] = math.Inf(-1)
		}
	}

	// Start at the leading blank or directly at the first token.
	trellis[0][0] = score(0, label(0))
	if numStates > 1 {
		trellis[0][1] = score(0, label(1))
	}

	for t := 1; t < frames; t++ {
		for s := 0; s < numStates; s++ {
			best := trellis[t-1][s]
			if s >= 1 && trellis[t-1][s-1] > best {
				best = trellis[t-1][s-1]
			}
			if canSkip(s) && trellis[t-1][s-2] > best {
				best = trellis[t-1][s-2]
			}
			if math.IsInf(best, -1) {
				continue
			}
			trellis[t][s] = score(t, label(s)) + best
		}
	}

	// Best of the two admissible final states: trailing blank or last
	// token.
	s := numStates - 1
	if numStates >= 2 && trellis[frames-1][numStates-2] > trellis[frames-1][s] {
		s = numStates - 2
	}
	if math.IsInf(trellis[frames-1][s], -1) {
		return nil, tts.ErrNoTimestamps
	}

	// Backtrack greedily by predecessor score.
	states := make([]int, frames)
	states[frames-1] = s
	for t := frames - 1; t > 0; t-- {
		prev := s
		best := trellis[t-1][s]
		if s >= 1 && trellis[t-1][s-1] > best {
			best = trellis[t-1][s-1]
			prev = s - 1
		}
		if canSkip(s) && trellis[t-1][s-2] > best {
			prev = s - 2
		}
		s = prev
		states[t-1] = s
	}

	// Collapse consecutive frames sharing a token state into spans.
	var spans []TokenSpan
	for t := 0; t < frames; {
		st := states[t]
		end := t + 1
		for end < frames && states[end] == st {
			end++
		}
		if st%2 == 1 {
			spans = append(spans, TokenSpan{
				Token:      (st - 1) / 2,
				StartFrame: t,
				EndFrame:   end,
			})
		}
		t = end
	}
	return spans, nil
}
