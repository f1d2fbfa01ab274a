package pipeline

import (
	"github.com/charmbracelet/log"

	"github.com/readalong/readalong/tts"
	"github.com/readalong/readalong/tts/sentence"
)

// paragraphWindow keeps a bounded set of paragraphs' source text and
// sentence splits around the playback position. Paragraphs are fetched
// and split lazily on first access and evicted together when the
// window slides forward or overflows. Not safe for concurrent use; the
// owning queue serializes access.
type paragraphWindow struct {
	max      int
	source   tts.DocumentSource
	splitter *sentence.Splitter

	texts  map[int]string
	splits map[int][]sentence.Chunk

	// onEvict lets the owner drop per-sentence state tied to an
	// evicted paragraph.
	onEvict func(paragraph int)
}

func newParagraphWindow(source tts.DocumentSource, max int, onEvict func(int)) *paragraphWindow {
	if max < 1 {
		max = 1
	}
	return &paragraphWindow{
		max:      max,
		source:   source,
		splitter: sentence.New(),
		texts:    make(map[int]string),
		splits:   make(map[int][]sentence.Chunk),
		onEvict:  onEvict,
	}
}

// chunks returns the sentence splits for a paragraph, fetching and
// splitting it on first access. ok is false when the paragraph does
// not exist in the source.
func (w *paragraphWindow) chunks(paragraph int) ([]sentence.Chunk, bool) {
	if c, ok := w.splits[paragraph]; ok {
		return c, true
	}
	if paragraph < 0 || paragraph >= w.source.ParagraphCount() {
		return nil, false
	}
	text, ok := w.source.Paragraph(paragraph)
	if !ok {
		return nil, false
	}
	w.texts[paragraph] = text
	w.splits[paragraph] = w.splitter.Split(text)
	w.enforceBound(paragraph)
	return w.splits[paragraph], true
}

// slideTo evicts every paragraph behind the current one.
func (w *paragraphWindow) slideTo(current int) {
	for p := range w.texts {
		if p < current {
			w.evict(p)
		}
	}
}

// size reports how many paragraphs the window currently holds.
func (w *paragraphWindow) size() int {
	return len(w.texts)
}

// enforceBound evicts the oldest paragraphs until the window is back
// within its limit, never evicting the paragraph just fetched.
func (w *paragraphWindow) enforceBound(keep int) {
	for len(w.texts) > w.max {
		oldest := -1
		for p := range w.texts {
			if p != keep && (oldest < 0 || p < oldest) {
				oldest = p
			}
		}
		if oldest < 0 {
			return
		}
		w.evict(oldest)
	}
}

func (w *paragraphWindow) evict(paragraph int) {
	delete(w.texts, paragraph)
	delete(w.splits, paragraph)
	log.Debug("window: evicted paragraph", "paragraph", paragraph)
	if w.onEvict != nil {
		w.onEvict(paragraph)
	}
}
