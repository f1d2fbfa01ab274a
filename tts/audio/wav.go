package audio

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/readalong/readalong/tts"
)

// WriteWAV writes mono 16-bit PCM to path as a RIFF/WAVE file.
func WriteWAV(path string, pcm []byte) error {
	if err := ValidatePCM(pcm); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, tts.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: tts.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(pcm)/tts.BytesPerSample),
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}

// ReadWAV loads a RIFF/WAVE file and returns its samples as 16-bit LE
// mono PCM at the file's sample rate.
func ReadWAV(path string) (pcm []byte, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", tts.ErrAudioConvertFailed, err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 {
		return nil, 0, fmt.Errorf("%w: only mono supported", tts.ErrInvalidAudioFormat)
	}

	pcm = make([]byte, len(buf.Data)*tts.BytesPerSample)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(int16(s)))
	}
	return pcm, buf.Format.SampleRate, nil
}
