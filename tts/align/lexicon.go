package align

import (
	"strings"
	"unicode"
)

// maxNumberGroups bounds the look-ahead when a numeric or currency
// token expands into several spoken words ("$1,234" → "one thousand
// two hundred thirty four dollars").
const maxNumberGroups = 8

// contractions maps a display contraction to the words the synthesizer
// actually speaks.
var contractions = map[string][]string{
	"don't":     {"do", "not"},
	"doesn't":   {"does", "not"},
	"didn't":    {"did", "not"},
	"can't":     {"can", "not"},
	"couldn't":  {"could", "not"},
	"won't":     {"will", "not"},
	"wouldn't":  {"would", "not"},
	"shouldn't": {"should", "not"},
	"isn't":     {"is", "not"},
	"aren't":    {"are", "not"},
	"wasn't":    {"was", "not"},
	"weren't":   {"were", "not"},
	"hasn't":    {"has", "not"},
	"haven't":   {"have", "not"},
	"hadn't":    {"had", "not"},
	"i'm":       {"i", "am"},
	"i've":      {"i", "have"},
	"i'll":      {"i", "will"},
	"i'd":       {"i", "would"},
	"you're":    {"you", "are"},
	"you've":    {"you", "have"},
	"you'll":    {"you", "will"},
	"he's":      {"he", "is"},
	"she's":     {"she", "is"},
	"it's":      {"it", "is"},
	"we're":     {"we", "are"},
	"we've":     {"we", "have"},
	"we'll":     {"we", "will"},
	"they're":   {"they", "are"},
	"they've":   {"they", "have"},
	"they'll":   {"they", "will"},
	"that's":    {"that", "is"},
	"there's":   {"there", "is"},
	"what's":    {"what", "is"},
	"let's":     {"let", "us"},
}

// abbreviations maps a display abbreviation to its spoken expansion.
var abbreviations = map[string][]string{
	"dr.":   {"doctor"},
	"mr.":   {"mister"},
	"mrs.":  {"missus"},
	"ms.":   {"miss"},
	"st.":   {"saint"},
	"jr.":   {"junior"},
	"sr.":   {"senior"},
	"vs.":   {"versus"},
	"etc.":  {"et", "cetera"},
	"e.g.":  {"for", "example"},
	"i.e.":  {"that", "is"},
	"no.":   {"number"},
	"dept.": {"department"},
	"approx.": {"approximately"},
}

// expansionGroupCount estimates how many phoneme groups (spoken words)
// a display word consumes. Plain words and possessives consume one;
// contractions and abbreviations consume their table size; numeric and
// currency tokens consume a digit-based estimate bounded by
// maxNumberGroups.
func expansionGroupCount(word string) int {
	w := strings.ToLower(strings.Trim(word, ",;:()[]\""))

	if parts, ok := contractions[strings.TrimRight(w, ".!?")]; ok {
		return len(parts)
	}
	if parts, ok := abbreviations[w]; ok {
		return len(parts)
	}
	if n := numberGroupEstimate(w); n > 0 {
		return n
	}
	return 1
}

// numberGroupEstimate returns an estimated spoken-word count for a
// numeric or currency token, or 0 for non-numeric words.
func numberGroupEstimate(w string) int {
	digits := 0
	hasCurrency := false
	for _, r := range w {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '$' || r == '€' || r == '£' || r == '¥':
			hasCurrency = true
		}
	}
	if digits == 0 {
		return 0
	}
	// Roughly one spoken word per digit plus scale words, one extra
	// for the currency unit.
	n := digits
	if digits > 1 {
		n++
	}
	if hasCurrency {
		n++
	}
	if n > maxNumberGroups {
		n = maxNumberGroups
	}
	return n
}

// expectedPhonemeCount is the DTW match-cost heuristic: the number of
// phonemes a word is expected to synthesize into.
func expectedPhonemeCount(word string) int {
	runes := 0
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			runes++
		}
	}
	n := (runes + 1) / 2
	if n < 1 {
		n = 1
	}
	return n
}
