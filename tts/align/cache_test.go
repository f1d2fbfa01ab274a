package align

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/readalong/readalong/tts"
)

func testResult() *tts.AlignmentResult {
	return &tts.AlignmentResult{
		ParagraphIndex: 2,
		TotalDuration:  1.5,
		Words: []tts.WordTiming{
			{WordIndex: 0, Start: 0, Duration: 0.5, Text: "hello", TextRange: tts.TextRange{Start: 0, Length: 5}},
			{WordIndex: 1, Start: 0.5, Duration: 1.0, Text: "world", TextRange: tts.TextRange{Start: 6, Length: 5}},
		},
	}
}

func TestDiskCache_RoundTrip(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	want := testResult()
	if err := c.Save("doc-1", tts.SentenceKey{Paragraph: 2}, 1.0, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := c.Load("doc-1", tts.SentenceKey{Paragraph: 2}, 1.0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("record missing after save")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestDiskCache_MissingIsNotAnError(t *testing.T) {
	c, _ := NewDiskCache(t.TempDir())
	got, ok, err := c.Load("nope", tts.SentenceKey{}, 1.0)
	if err != nil {
		t.Errorf("missing record returned error: %v", err)
	}
	if ok || got != nil {
		t.Errorf("missing record returned a value: %+v", got)
	}
}

func TestDiskCache_SpeedIsPartOfTheKey(t *testing.T) {
	c, _ := NewDiskCache(t.TempDir())
	if err := c.Save("doc", tts.SentenceKey{}, 1.0, testResult()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := c.Load("doc", tts.SentenceKey{}, 1.5); ok {
		t.Error("record for speed 1.0 leaked into speed 1.5")
	}
}

func TestDiskCache_CorruptRecordIsAReadError(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewDiskCache(dir)
	if err := c.Save("doc", tts.SentenceKey{}, 1.0, testResult()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Overwrite the record with garbage.
	path := recordPath(filepath.Join(dir, docKey("doc")), tts.SentenceKey{}, 1.0)
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	_, _, err := c.Load("doc", tts.SentenceKey{}, 1.0)
	if !errors.Is(err, tts.ErrCacheRead) {
		t.Errorf("corrupt record: got %v, want ErrCacheRead", err)
	}
}

func TestDiskCache_ClearByDocument(t *testing.T) {
	c, _ := NewDiskCache(t.TempDir())
	_ = c.Save("doc-a", tts.SentenceKey{}, 1.0, testResult())
	_ = c.Save("doc-b", tts.SentenceKey{}, 1.0, testResult())

	if err := c.Clear("doc-a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := c.Load("doc-a", tts.SentenceKey{}, 1.0); ok {
		t.Error("doc-a record survived Clear")
	}
	if _, ok, _ := c.Load("doc-b", tts.SentenceKey{}, 1.0); !ok {
		t.Error("doc-b record lost by Clear(doc-a)")
	}

	if err := c.ClearAll(); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if _, ok, _ := c.Load("doc-b", tts.SentenceKey{}, 1.0); ok {
		t.Error("doc-b record survived ClearAll")
	}
}
