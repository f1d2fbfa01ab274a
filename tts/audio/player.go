package audio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/readalong/readalong/tts"
)

// SinkBuffer is one element of the playback sink contract: an ordered
// raw sample buffer for a sentence, with Final marking that no more
// buffers follow for that sentence.
type SinkBuffer struct {
	Key   tts.SentenceKey
	Data  []byte
	Final bool
}

// Sink consumes the ordered per-sentence audio stream produced by the
// pipeline.
type Sink interface {
	Enqueue(buf SinkBuffer) error
}

// contextReadyTimeout bounds the wait for the audio device.
const contextReadyTimeout = 5 * time.Second

// Player plays 16-bit mono PCM through the system audio device and
// exposes a live playback clock for the highlight scheduler.
type Player struct {
	ctx *oto.Context

	mu        sync.Mutex
	player    *oto.Player
	pending   bytes.Buffer
	startedAt time.Time
	pausedFor time.Duration
	pausedAt  time.Time
	paused    bool
}

// NewPlayer initializes the audio device.
func NewPlayer() (*Player, error) {
	options := &oto.NewContextOptions{
		SampleRate:   tts.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("audio context: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(contextReadyTimeout):
		return nil, fmt.Errorf("audio context: device not ready after %v", contextReadyTimeout)
	}
	log.Debug("player: audio context ready", "sample_rate", tts.SampleRate)
	return &Player{ctx: ctx}, nil
}

// Enqueue implements Sink. Buffers for one sentence are appended in
// order; the Final buffer starts playback of the accumulated sentence.
func (p *Player) Enqueue(buf SinkBuffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending.Write(buf.Data)
	if !buf.Final {
		return nil
	}

	data := make([]byte, p.pending.Len())
	copy(data, p.pending.Bytes())
	p.pending.Reset()
	return p.playLocked(data)
}

// Play plays one complete PCM buffer, replacing any current playback.
func (p *Player) Play(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playLocked(pcm)
}

func (p *Player) playLocked(pcm []byte) error {
	if err := ValidatePCM(pcm); err != nil {
		return err
	}
	if p.player != nil {
		_ = p.player.Close()
	}
	p.player = p.ctx.NewPlayer(bytes.NewReader(pcm))
	p.startedAt = time.Now()
	p.pausedFor = 0
	p.paused = false
	p.player.Play()
	return nil
}

// Pause suspends playback; idempotent.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil || p.paused {
		return
	}
	p.player.Pause()
	p.paused = true
	p.pausedAt = time.Now()
}

// Resume continues paused playback; idempotent.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil || !p.paused {
		return
	}
	p.pausedFor += time.Since(p.pausedAt)
	p.paused = false
	p.player.Play()
}

// Stop halts playback and resets the clock.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player != nil {
		_ = p.player.Close()
		p.player = nil
	}
	p.pending.Reset()
	p.startedAt = time.Time{}
	p.paused = false
	p.pausedFor = 0
}

// IsPlaying reports whether audio is currently playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.player != nil && p.player.IsPlaying()
}

// Position returns the playback position within the current sentence.
// It is the highlight scheduler's clock source.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		return 0
	}
	if p.paused {
		return p.pausedAt.Sub(p.startedAt) - p.pausedFor
	}
	return time.Since(p.startedAt) - p.pausedFor
}

// Wait blocks until the current sentence finishes playing or the
// timeout elapses.
func (p *Player) Wait(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !p.IsPlaying() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
