package align

import (
	"strings"
	"unicode"

	"github.com/readalong/readalong/tts"
)

// phonemeGroup is a run of consecutive phonemes sharing one normalized
// text range: one group per word the synthesizer spoke.
type phonemeGroup struct {
	Range    tts.TextRange
	Duration float64
	Count    int
}

// groupPhonemes collapses consecutive phonemes with identical text
// ranges into groups, preserving order.
func groupPhonemes(phonemes []tts.PhonemeInfo) []phonemeGroup {
	var groups []phonemeGroup
	for _, p := range phonemes {
		if n := len(groups); n > 0 && groups[n-1].Range == p.TextRange {
			groups[n-1].Duration += p.Duration
			groups[n-1].Count++
			continue
		}
		groups = append(groups, phonemeGroup{Range: p.TextRange, Duration: p.Duration, Count: 1})
	}
	return groups
}

// displayWords splits text on whitespace, keeping byte offsets.
func displayWords(text string) []tts.TextRange {
	var words []tts.TextRange
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, tts.TextRange{Start: start, Length: i - start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, tts.TextRange{Start: start, Length: len(text) - start})
	}
	return words
}

// alignDirect matches display words sequentially against phoneme
// groups. Expansion tables decide how many groups one word absorbs;
// once every word is placed, any remaining groups extend the last
// word so total duration always equals the audio duration.
func alignDirect(res *tts.SynthesisResult, paragraphIndex int) *tts.AlignmentResult {
	groups := groupPhonemes(res.Phonemes)
	words := displayWords(res.OriginalText)
	if len(words) == 0 || len(groups) == 0 {
		return nil
	}

	total := res.Duration()
	timings := make([]tts.WordTiming, 0, len(words))
	clock := 0.0
	gi := 0

	for wi, wr := range words {
		if gi >= len(groups) {
			// Out of groups: remaining words are omitted, audio keeps
			// playing without them highlighted.
			break
		}
		word := res.OriginalText[wr.Start:wr.End()]

		consume := expansionGroupCount(word)
		// Never starve the words still waiting behind us.
		remainingWords := len(words) - wi - 1
		if avail := len(groups) - gi - remainingWords; consume > avail {
			consume = avail
		}
		if consume < 1 {
			consume = 1
		}

		var dur float64
		for n := 0; n < consume && gi < len(groups); n++ {
			dur += groups[gi].Duration
			gi++
		}
		timings = append(timings, tts.WordTiming{
			WordIndex: len(timings),
			Start:     clock,
			Duration:  dur,
			Text:      word,
			TextRange: wr,
		})
		clock += dur
	}

	if len(timings) == 0 {
		return nil
	}

	// Absorb leftover groups and rounding drift into the last word.
	for ; gi < len(groups); gi++ {
		clock += groups[gi].Duration
	}
	last := &timings[len(timings)-1]
	if total > 0 {
		last.Duration += total - last.End()
		if last.Duration < 0 {
			last.Duration = 0
		}
	} else {
		total = clock
	}

	return &tts.AlignmentResult{
		ParagraphIndex: paragraphIndex,
		TotalDuration:  total,
		Words:          timings,
	}
}

// projectPosition maps an original-text position into normalized-text
// coordinates via the engine's segment mapping, interpolating
// proportionally between segment boundaries.
func projectPosition(cm []tts.CharMapEntry, pos int) int {
	if len(cm) == 0 {
		return pos
	}
	if pos <= cm[0].Original {
		return cm[0].Normalized
	}
	last := cm[len(cm)-1]
	if pos >= last.Original {
		return last.Normalized + (pos - last.Original)
	}
	for i := 1; i < len(cm); i++ {
		if pos > cm[i].Original {
			continue
		}
		lo, hi := cm[i-1], cm[i]
		span := hi.Original - lo.Original
		if span <= 0 {
			return lo.Normalized
		}
		frac := float64(pos-lo.Original) / float64(span)
		return lo.Normalized + int(frac*float64(hi.Normalized-lo.Normalized)+0.5)
	}
	return last.Normalized
}

// alignWithPositions computes word timings by projecting each display
// word's character range into normalized-text space and summing the
// phonemes that fall inside the projected range. Used when the source
// document supplies a word-position map.
func alignWithPositions(res *tts.SynthesisResult, wordRanges []tts.TextRange, paragraphIndex int) *tts.AlignmentResult {
	if len(wordRanges) == 0 || len(res.Phonemes) == 0 {
		return nil
	}

	// Precompute each phoneme's start time.
	starts := make([]float64, len(res.Phonemes))
	clock := 0.0
	for i, p := range res.Phonemes {
		starts[i] = clock
		clock += p.Duration
	}

	total := res.Duration()
	if total == 0 {
		total = clock
	}

	var timings []tts.WordTiming
	for _, wr := range wordRanges {
		normStart := projectPosition(res.CharMap, wr.Start)
		normEnd := projectPosition(res.CharMap, wr.End())

		first := -1
		var dur float64
		for i, p := range res.Phonemes {
			mid := p.TextRange.Start + p.TextRange.Length/2
			if mid >= normStart && mid < normEnd {
				if first < 0 {
					first = i
				}
				dur += p.Duration
			}
		}
		if first < 0 {
			// No phoneme matched: the word is omitted, not an error.
			continue
		}
		text := ""
		if wr.End() <= len(res.OriginalText) {
			text = res.OriginalText[wr.Start:wr.End()]
		}
		timings = append(timings, tts.WordTiming{
			WordIndex: len(timings),
			Start:     starts[first],
			Duration:  dur,
			Text:      text,
			TextRange: wr,
		})
	}
	if len(timings) == 0 {
		return nil
	}

	// Clamp tail drift.
	last := &timings[len(timings)-1]
	if last.End() > total {
		last.Duration = total - last.Start
	}

	return &tts.AlignmentResult{
		ParagraphIndex: paragraphIndex,
		TotalDuration:  total,
		Words:          timings,
	}
}

// stripWord lowercases and removes surrounding punctuation, the form
// used for lexicon lookups.
func stripWord(word string) string {
	return strings.Trim(strings.ToLower(word), ".,;:!?()[]\"'")
}
