package align

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/readalong/readalong/tts"
)

// stubModel emits a fixed matrix regardless of input.
type stubModel struct {
	emissions [][]float32
	labels    []string
	hop       int
	err       error
	calls     int
}

func (m *stubModel) Emissions(_ context.Context, _ []float32) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.emissions, nil
}

func (m *stubModel) Labels() []string { return m.labels }
func (m *stubModel) HopSize() int     { return m.hop }

func TestService_PhonemeStrategy(t *testing.T) {
	s, err := NewService(nil, 8)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	res := synth("good morning", []string{"good", "morning"}, []int{2, 3}, 0.1)

	result, err := s.Align(context.Background(), 0, res, nil, 1.0)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if len(result.Words) != 2 {
		t.Fatalf("got %d words, want 2", len(result.Words))
	}
	checkMonotonic(t, result)
}

func TestService_CacheHit(t *testing.T) {
	s, _ := NewService(nil, 8)
	res := synth("good morning", []string{"good", "morning"}, []int{2, 3}, 0.1)
	ctx := context.Background()

	first, err := s.Align(ctx, 0, res, nil, 1.0)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	second, err := s.Align(ctx, 0, res, nil, 1.0)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if first != second {
		t.Error("expected memoized result on second call")
	}

	// Different speed is a different key.
	third, err := s.Align(ctx, 0, res, nil, 1.5)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if third == first {
		t.Error("speed change must not reuse the cached alignment")
	}
}

func TestService_ModelFailureFallsBack(t *testing.T) {
	model := &stubModel{err: errors.New("onnx session died"), labels: []string{"-"}, hop: 320}
	s, _ := NewService(model, 8)
	res := synth("still works", []string{"still", "works"}, []int{2, 2}, 0.1)

	result, err := s.Align(context.Background(), 0, res, nil, 1.0)
	if err != nil {
		t.Fatalf("expected phoneme fallback, got %v", err)
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want 1", model.calls)
	}
	if len(result.Words) != 2 {
		t.Errorf("fallback produced %d words, want 2", len(result.Words))
	}
}

func TestService_CTCStrategy(t *testing.T) {
	// Vocabulary: blank, a, b. Transcript "a b": token a then token b.
	hi := float32(math.Log(0.9))
	lo := float32(math.Log(0.05))
	emissions := [][]float32{
		{hi, lo, lo},
		{lo, hi, lo},
		{lo, hi, lo},
		{hi, lo, lo},
		{lo, lo, hi},
		{lo, lo, hi},
	}
	model := &stubModel{emissions: emissions, labels: []string{"-", "a", "b"}, hop: 320}
	s, _ := NewService(model, 8)

	res := synth("a b", []string{"a", "b"}, []int{1, 1}, 0.96/2)

	result, err := s.Align(context.Background(), 0, res, nil, 1.0)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if len(result.Words) != 2 {
		t.Fatalf("got %d words, want 2: %+v", len(result.Words), result.Words)
	}
	frame := float64(320) / float64(tts.SampleRate)
	if math.Abs(result.Words[0].Start-1*frame) > 1e-6 {
		t.Errorf("word a starts at %f, want %f", result.Words[0].Start, 1*frame)
	}
	if math.Abs(result.Words[1].Start-4*frame) > 1e-6 {
		t.Errorf("word b starts at %f, want %f", result.Words[1].Start, 4*frame)
	}
	checkMonotonic(t, result)
}

func TestService_EmptyInput(t *testing.T) {
	s, _ := NewService(nil, 8)
	if _, err := s.Align(context.Background(), 0, &tts.SynthesisResult{}, nil, 1.0); err == nil {
		t.Error("expected error for empty synthesis result")
	}
}
