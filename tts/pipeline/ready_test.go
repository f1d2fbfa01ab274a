package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/readalong/readalong/tts"
	"github.com/readalong/readalong/tts/align"
	"github.com/readalong/readalong/tts/engines/mock"
)

func testConfig() Config {
	return Config{
		MaxLookahead:    4,
		MaxParagraphs:   3,
		PollInterval:    5 * time.Millisecond,
		MaxPollAttempts: 400,
		Speed:           1.0,
	}
}

func newTestQueue(t *testing.T, engine tts.Engine, doc tts.SliceDocument, cfg Config) *ReadyQueue {
	t.Helper()
	aligner, err := align.NewService(nil, 16)
	if err != nil {
		t.Fatalf("new aligner: %v", err)
	}
	q := New(engine, doc, aligner, nil, cfg)
	t.Cleanup(q.Stop)
	return q
}

func TestReadyQueue_TwoSentenceParagraph(t *testing.T) {
	doc := tts.SliceDocument{"Hello world. This is a test."}
	q := newTestQueue(t, mock.New(), doc, testConfig())
	q.StartFrom(0, 0)

	first, err := q.WaitAndTake(0, 0)
	if err != nil {
		t.Fatalf("take first: %v", err)
	}
	second, err := q.WaitAndTake(0, 1)
	if err != nil {
		t.Fatalf("take second: %v", err)
	}

	if first.Text != "Hello world." {
		t.Errorf("first text = %q", first.Text)
	}
	if second.Text != "This is a test." {
		t.Errorf("second text = %q", second.Text)
	}
	if second.SentenceOffset <= first.SentenceOffset {
		t.Errorf("offsets not increasing: %d then %d", first.SentenceOffset, second.SentenceOffset)
	}
	for _, rs := range []*tts.ReadySentence{first, second} {
		if len(rs.CombinedAudio()) == 0 {
			t.Errorf("%s: no audio", rs.Key)
		}
		if rs.Alignment == nil || len(rs.Alignment.Words) == 0 {
			t.Errorf("%s: no word timings", rs.Key)
		}
	}

	// Taken sentences leave the buffer.
	if got := q.ReadyCount(); got != 0 {
		t.Errorf("ready count after drain = %d, want 0", got)
	}
	if got := q.BufferedBytes(); got != 0 {
		t.Errorf("buffered bytes after drain = %d, want 0", got)
	}
}

func TestReadyQueue_CrossesParagraphBoundaries(t *testing.T) {
	doc := tts.SliceDocument{"First paragraph.", "   ", "Third paragraph."}
	q := newTestQueue(t, mock.New(), doc, testConfig())
	q.StartFrom(0, 0)

	if _, err := q.WaitAndTake(0, 0); err != nil {
		t.Fatalf("take (0,0): %v", err)
	}
	// The whitespace paragraph yields no sentences; the worker walks
	// straight past it.
	rs, err := q.WaitAndTake(2, 0)
	if err != nil {
		t.Fatalf("take (2,0): %v", err)
	}
	if rs.Text != "Third paragraph." {
		t.Errorf("text = %q", rs.Text)
	}
}

func TestReadyQueue_SkippedOnSynthesisFailure(t *testing.T) {
	engine := mock.New()
	engine.SetFailure(errors.New("engine down"))
	q := newTestQueue(t, engine, tts.SliceDocument{"Hello there."}, testConfig())
	q.StartFrom(0, 0)

	_, err := q.WaitAndTake(0, 0)
	if !errors.Is(err, tts.ErrSentenceSkipped) {
		t.Errorf("got %v, want ErrSentenceSkipped", err)
	}
}

func TestReadyQueue_FailureDoesNotSpreadToLaterUnits(t *testing.T) {
	engine := mock.New()
	engine.SetFailure(errors.New("transient"))
	q := newTestQueue(t, engine, tts.SliceDocument{"One. Two."}, testConfig())
	q.StartFrom(0, 0)

	if _, err := q.WaitAndTake(0, 0); !errors.Is(err, tts.ErrSentenceSkipped) {
		t.Fatalf("got %v, want ErrSentenceSkipped", err)
	}

	// Recovery: a later restart reprocesses cleanly.
	engine.SetFailure(nil)
	q.StartFrom(0, 0)
	rs, err := q.WaitAndTake(0, 0)
	if err != nil {
		t.Fatalf("take after recovery: %v", err)
	}
	if rs.Text != "One." {
		t.Errorf("text = %q", rs.Text)
	}
}

func TestReadyQueue_SpeedChangeInvalidatesInFlightWork(t *testing.T) {
	engine := mock.New()
	engine.SetDelay(150 * time.Millisecond)
	q := newTestQueue(t, engine, tts.SliceDocument{"Hello world."}, testConfig())
	q.StartFrom(0, 0)

	// Let the worker get into the engine call, then invalidate its
	// session mid-flight.
	time.Sleep(30 * time.Millisecond)
	engine.SetDelay(0)
	q.SetSpeed(1.5)

	rs, err := q.WaitAndTake(0, 0)
	if err != nil {
		t.Fatalf("take after speed change: %v", err)
	}
	if rs == nil || len(rs.CombinedAudio()) == 0 {
		t.Fatal("no audio after reprocessing")
	}
	// The abandoned first attempt plus the retry under the new
	// session.
	if engine.Calls() < 2 {
		t.Errorf("engine calls = %d, want >= 2 (stale attempt discarded, unit retried)", engine.Calls())
	}
}

func TestReadyQueue_RestartReusesCompletedSynthesis(t *testing.T) {
	engine := mock.New()
	engine.SetDelay(80 * time.Millisecond)
	q := newTestQueue(t, engine, tts.SliceDocument{"Hello world."}, testConfig())
	q.StartFrom(0, 0)

	// Restart at the same position and speed while the first attempt is
	// still inside the engine. Its waveform lands in the synthesis cache
	// under the sentence's stable index, so the retry must reuse it.
	time.Sleep(20 * time.Millisecond)
	q.StartFrom(0, 0)

	rs, err := q.WaitAndTake(0, 0)
	if err != nil {
		t.Fatalf("take after restart: %v", err)
	}
	if len(rs.CombinedAudio()) == 0 {
		t.Fatal("no audio after restart")
	}
	if got := engine.Calls(); got != 1 {
		t.Errorf("engine calls = %d, want 1 (completed synthesis reused on retry)", got)
	}
}

func TestReadyQueue_RestartKeepsAudioLossless(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog."
	engine := mock.New()
	engine.SetDelay(60 * time.Millisecond)
	q := newTestQueue(t, engine, tts.SliceDocument{text}, testConfig())
	q.StartFrom(0, 0)

	time.Sleep(15 * time.Millisecond)
	q.StartFrom(0, 0)

	rs, err := q.WaitAndTake(0, 0)
	if err != nil {
		t.Fatalf("take after restart: %v", err)
	}

	// The mock waveform is a pure function of text and speed, so the
	// delivered chunks must concatenate to it byte for byte. A restart
	// must never hand over a sentence with part of its audio missing.
	want, err := mock.New().Synthesize(context.Background(), text, 1.0)
	if err != nil {
		t.Fatalf("reference synthesis: %v", err)
	}
	if !bytes.Equal(rs.CombinedAudio(), want.Audio) {
		t.Errorf("audio after restart is %d bytes, want %d matching bytes",
			len(rs.CombinedAudio()), len(want.Audio))
	}
}

func TestReadyQueue_PollBudgetScalesWithSentenceLength(t *testing.T) {
	engine := mock.New()
	engine.SetDelay(40 * time.Millisecond)
	cfg := testConfig()
	cfg.MaxPollAttempts = 1
	doc := tts.SliceDocument{"A reasonably long sentence earns the consumer a matching wait budget."}
	q := newTestQueue(t, engine, doc, cfg)
	q.StartFrom(0, 0)

	// A single 5ms attempt cannot cover a 40ms synthesis; the estimated
	// speaking time of the sentence extends the budget.
	if _, err := q.WaitAndTake(0, 0); err != nil {
		t.Fatalf("take with minimal attempt cap: %v", err)
	}
}

func TestReadyQueue_StaleWorkIsNeitherReadyNorSkipped(t *testing.T) {
	engine := mock.New()
	engine.SetDelay(100 * time.Millisecond)
	doc := tts.SliceDocument{"Hello world."}

	aligner, _ := align.NewService(nil, 16)
	q := New(engine, doc, aligner, nil, testConfig())
	q.StartFrom(0, 0)

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	// Wait for the abandoned engine call to finish, then confirm the
	// unit landed nowhere.
	time.Sleep(200 * time.Millisecond)
	if got := q.ReadyCount(); got != 0 {
		t.Errorf("stale work reached the ready buffer: %d entries", got)
	}
	if got := q.BufferedBytes(); got != 0 {
		t.Errorf("stale work left %d buffered bytes", got)
	}
}

func TestReadyQueue_LookaheadAndWindowBounds(t *testing.T) {
	doc := tts.SliceDocument{
		"Para one a. Para one b. Para one c.",
		"Para two a. Para two b.",
		"Para three a. Para three b.",
		"Para four a.",
		"Para five a. Para five b.",
	}
	cfg := testConfig()
	cfg.MaxLookahead = 2
	cfg.MaxParagraphs = 2
	q := newTestQueue(t, mock.New(), doc, cfg)
	q.StartFrom(0, 0)

	checkBounds := func() {
		t.Helper()
		if got := q.ReadyCount(); got > cfg.MaxLookahead {
			t.Fatalf("ready count %d exceeds lookahead %d", got, cfg.MaxLookahead)
		}
		if got := q.WindowSize(); got > cfg.MaxParagraphs {
			t.Fatalf("window holds %d paragraphs, max %d", got, cfg.MaxParagraphs)
		}
	}

	// Drain the whole document, checking the budgets as we go.
	positions := []tts.SentenceKey{
		{Paragraph: 0, Sentence: 0}, {Paragraph: 0, Sentence: 1}, {Paragraph: 0, Sentence: 2},
		{Paragraph: 1, Sentence: 0}, {Paragraph: 1, Sentence: 1},
		{Paragraph: 2, Sentence: 0}, {Paragraph: 2, Sentence: 1},
		{Paragraph: 3, Sentence: 0},
		{Paragraph: 4, Sentence: 0}, {Paragraph: 4, Sentence: 1},
	}
	for _, pos := range positions {
		checkBounds()
		rs, err := q.WaitAndTake(pos.Paragraph, pos.Sentence)
		if err != nil {
			t.Fatalf("take %s: %v", pos, err)
		}
		if rs.Key != pos {
			t.Errorf("took %s, want %s", rs.Key, pos)
		}
		checkBounds()
	}
}

func TestReadyQueue_StartFromLaterPosition(t *testing.T) {
	doc := tts.SliceDocument{"First one. First two.", "Second one."}
	q := newTestQueue(t, mock.New(), doc, testConfig())
	q.StartFrom(1, 0)

	rs, err := q.WaitAndTake(1, 0)
	if err != nil {
		t.Fatalf("take (1,0): %v", err)
	}
	if rs.Text != "Second one." {
		t.Errorf("text = %q", rs.Text)
	}
}

func TestReadyQueue_StoppedQueueRefusesWork(t *testing.T) {
	q := newTestQueue(t, mock.New(), tts.SliceDocument{"Hello."}, testConfig())
	q.Stop()
	if _, err := q.WaitAndTake(0, 0); !errors.Is(err, tts.ErrQueueStopped) {
		t.Errorf("got %v, want ErrQueueStopped", err)
	}
}

func TestReadyQueue_WaitTimeoutOnMissingUnit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPollAttempts = 3
	q := newTestQueue(t, mock.New(), tts.SliceDocument{"Only one."}, cfg)
	q.StartFrom(0, 0)

	// Sentence 5 never exists, so the poll budget runs out.
	if _, err := q.WaitAndTake(0, 5); !errors.Is(err, tts.ErrWaitTimeout) {
		t.Errorf("got %v, want ErrWaitTimeout", err)
	}
}
