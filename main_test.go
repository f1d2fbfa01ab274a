package main

import (
	"testing"
)

func TestSplitParagraphs(t *testing.T) {
	text := "First paragraph\nstill first.\n\nSecond paragraph.\r\n\r\n\n  \n\nThird."
	got := splitParagraphs(text)
	want := []string{"First paragraph still first.", "Second paragraph.", "Third."}
	if len(got) != len(want) {
		t.Fatalf("got %d paragraphs %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paragraph %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitParagraphs_Empty(t *testing.T) {
	if got := splitParagraphs("  \n\n\t\n"); got != nil {
		t.Errorf("whitespace source yielded %q", got)
	}
}

func TestDocumentID_Stable(t *testing.T) {
	a := documentID([]byte("some document"))
	b := documentID([]byte("some document"))
	c := documentID([]byte("another document"))
	if a != b {
		t.Errorf("same content produced different IDs: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different content produced the same ID")
	}
}

func TestNewEngine(t *testing.T) {
	if _, err := newEngine("mock"); err != nil {
		t.Errorf("mock engine: %v", err)
	}
	if _, err := newEngine("neural9000"); err == nil {
		t.Error("unknown engine accepted")
	}
}
