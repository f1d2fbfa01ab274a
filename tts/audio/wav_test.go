package audio

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/readalong/readalong/tts"
)

func TestWAVRoundTrip(t *testing.T) {
	// A short ramp so byte order mistakes would show up.
	pcm := make([]byte, 64)
	for i := 0; i < len(pcm)/2; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(int16(i*100-1600)))
	}

	path := filepath.Join(t.TempDir(), "out.wav")
	if err := WriteWAV(path, pcm); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rate != tts.SampleRate {
		t.Errorf("sample rate = %d, want %d", rate, tts.SampleRate)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("samples changed across round trip: got %d bytes, want %d", len(got), len(pcm))
	}
}

func TestWriteWAV_RejectsOddLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := WriteWAV(path, []byte{1, 2, 3}); err == nil {
		t.Error("odd-length PCM accepted")
	}
}

func TestReadWAV_MissingFile(t *testing.T) {
	if _, _, err := ReadWAV(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("missing file read without error")
	}
}
