package align

import (
	"math"

	"github.com/readalong/readalong/tts"
)

// DTW cost weights. Skipping a display word is penalized much harder
// than skipping a phoneme group: a silent word is a worse user
// experience than an extra sound.
const (
	dtwInsertCost = 1.0 // phoneme group not mapped to any word
	dtwDeleteCost = 5.0 // display word with no phoneme group
)

// alignDTW recovers a word/group alignment through a min-cost path
// over the (displayWords × phonemeGroups) cost matrix, then merges
// consecutive groups mapped to the same word. It is the fallback when
// sequential matching cannot place the words.
func alignDTW(res *tts.SynthesisResult, paragraphIndex int) *tts.AlignmentResult {
	groups := groupPhonemes(res.Phonemes)
	words := displayWords(res.OriginalText)
	n, m := len(words), len(groups)
	if n == 0 || m == 0 {
		return nil
	}

	matchCost := func(wi, gj int) float64 {
		word := res.OriginalText[words[wi].Start:words[wi].End()]
		return math.Abs(float64(groups[gj].Count - expectedPhonemeCount(stripWord(word))))
	}

	// cost[i][j]: best cost aligning words[:i] with groups[:j].
	cost := make([][]float64, n+1)
	for i := range cost {
		cost[i] = make([]float64, m+1)
	}
	for i := 1; i <= n; i++ {
		cost[i][0] = float64(i) * dtwDeleteCost
	}
	for j := 1; j <= m; j++ {
		cost[0][j] = float64(j) * dtwInsertCost
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			best := cost[i-1][j-1] + matchCost(i-1, j-1)
			if c := cost[i][j-1] + dtwInsertCost; c < best {
				best = c
			}
			if c := cost[i-1][j] + dtwDeleteCost; c < best {
				best = c
			}
			cost[i][j] = best
		}
	}

	// Backtrace: assign each group to at most one word.
	assignment := make([]int, m) // group index -> word index, -1 unmapped
	for j := range assignment {
		assignment[j] = -1
	}
	i, j := n, m
	for i > 0 && j > 0 {
		switch cost[i][j] {
		case cost[i-1][j-1] + matchCost(i-1, j-1):
			assignment[j-1] = i - 1
			i--
			j--
		case cost[i][j-1] + dtwInsertCost:
			// Unmapped group: merge into the word currently being
			// matched so its duration is not lost.
			assignment[j-1] = i - 1
			j--
		default:
			i--
		}
	}

	// Accumulate group durations per word in order.
	starts := make([]float64, m)
	clock := 0.0
	for gj, g := range groups {
		starts[gj] = clock
		clock += g.Duration
	}

	total := res.Duration()
	if total == 0 {
		total = clock
	}

	var timings []tts.WordTiming
	for wi := 0; wi < n; wi++ {
		first := -1
		var dur float64
		for gj := 0; gj < m; gj++ {
			if assignment[gj] != wi {
				continue
			}
			if first < 0 {
				first = gj
			}
			dur += groups[gj].Duration
		}
		if first < 0 {
			// Word silently omitted from the timing output.
			continue
		}
		wr := words[wi]
		timings = append(timings, tts.WordTiming{
			WordIndex: len(timings),
			Start:     starts[first],
			Duration:  dur,
			Text:      res.OriginalText[wr.Start:wr.End()],
			TextRange: wr,
		})
	}
	if len(timings) == 0 {
		return nil
	}

	last := &timings[len(timings)-1]
	if last.End() < total {
		last.Duration = total - last.Start
	}

	return &tts.AlignmentResult{
		ParagraphIndex: paragraphIndex,
		TotalDuration:  total,
		Words:          timings,
	}
}
