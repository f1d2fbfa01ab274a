// Package sentence splits paragraph text into ordered sentence chunks
// with byte offsets into the original text. Splitting is pure and
// deterministic; the chunks are the atomic units of synthesis and
// alignment work.
package sentence

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// minLength is the minimum trimmed length for a chunk to be emitted.
const minLength = 1

// Chunk is one sentence-sized unit of a paragraph. Start and End are
// byte offsets into the paragraph text; Text is the trimmed sentence.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Splitter detects sentence boundaries. The zero value is not usable;
// construct with New.
type Splitter struct {
	abbreviations map[string]bool
}

// New creates a splitter with the default abbreviation table.
func New() *Splitter {
	return &Splitter{abbreviations: makeAbbreviationMap()}
}

// Split returns the sentences of text in order. Whitespace-only input
// yields nil; input with no detectable boundary is returned as a
// single chunk covering the whole paragraph.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []Chunk
	lastStart := 0

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		// Collect trailing punctuation and closing quotes/brackets.
		end := i + 1
		for end < len(runes) && isTerminator(runes[end]) {
			end++
		}
		if end < len(runes) && isClosing(runes[end]) {
			end++
		}

		if !s.isBoundary(runes, i) {
			continue
		}

		chunks = appendChunk(chunks, runes, text, lastStart, end)

		// Skip whitespace to the next sentence start.
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		lastStart = end
		i = end - 1
	}

	if lastStart < len(runes) {
		chunks = appendChunk(chunks, runes, text, lastStart, len(runes))
	}

	// No boundary found anywhere: the whole input is one sentence.
	if len(chunks) == 0 {
		chunks = appendChunk(chunks, runes, text, 0, len(runes))
	}
	return chunks
}

// EstimateDuration estimates speaking time for text at the given speed
// multiplier, used to size poll budgets. Base rate is 150 words per
// minute.
func (s *Splitter) EstimateDuration(text string, speed float64) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	if speed <= 0 {
		speed = 1.0
	}
	seconds := float64(words) * 60.0 / (150.0 * speed)
	return time.Duration(seconds * float64(time.Second))
}

// appendChunk emits runes[start:end] as a chunk if its trimmed text is
// long enough, converting rune offsets to byte offsets.
func appendChunk(chunks []Chunk, runes []rune, text string, start, end int) []Chunk {
	trimmed := strings.TrimSpace(string(runes[start:end]))
	if len(trimmed) < minLength {
		return chunks
	}
	byteStart := len(string(runes[:start]))
	byteEnd := len(string(runes[:end]))
	return append(chunks, Chunk{
		Index: len(chunks),
		Text:  trimmed,
		Start: byteStart,
		End:   byteEnd,
	})
}

// isBoundary reports whether the terminator at pos ends a sentence.
func (s *Splitter) isBoundary(runes []rune, pos int) bool {
	punct := runes[pos]

	if punct == '.' {
		// Word immediately before the period, lowercased and
		// NFC-normalized for table lookup.
		start := pos - 1
		for start >= 0 && !unicode.IsSpace(runes[start]) {
			start--
		}
		word := norm.NFC.String(strings.ToLower(string(runes[start+1 : pos+1])))

		if s.abbreviations[word] || s.abbreviations[strings.TrimSuffix(word, ".")] {
			return false
		}
		// Multi-dot forms like "u.s." or "ph.d." never end a sentence
		// on an interior dot.
		if strings.Count(word, ".") > 1 {
			return false
		}
		// Decimal numbers: "3.14" keeps going.
		if pos > 0 && pos+1 < len(runes) &&
			unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}
		// Ellipsis.
		if pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
			return false
		}
	}

	// Whatever follows closing quotes/brackets must be whitespace or
	// end of text.
	next := pos + 1
	for next < len(runes) && (isTerminator(runes[next]) || isClosing(runes[next])) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[next]) {
		return false
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if unicode.IsUpper(runes[next]) || unicode.IsDigit(runes[next]) {
		return true
	}
	// Exclamation and question marks end sentences regardless of the
	// next word's case.
	return punct == '!' || punct == '?'
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st",
		"i.e", "e.g", "etc", "vs", "cf", "al", "inc", "ltd", "co", "corp",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs", "no", "vol", "pp",
	}
	m := make(map[string]bool, len(abbrevs)*2)
	for _, a := range abbrevs {
		m[a] = true
		if !strings.Contains(a, ".") {
			m[a+"."] = true
		}
	}
	return m
}
