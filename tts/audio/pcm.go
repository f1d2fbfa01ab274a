package audio

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/readalong/readalong/tts"
)

// ValidatePCM checks that data is non-empty 16-bit sample-aligned PCM.
func ValidatePCM(data []byte) error {
	if len(data) == 0 {
		return tts.ErrEmptyAudio
	}
	if len(data)%tts.BytesPerSample != 0 {
		return fmt.Errorf("%w: %d bytes not aligned to %d-byte samples",
			tts.ErrInvalidAudioFormat, len(data), tts.BytesPerSample)
	}
	return nil
}

// Duration returns the playback time of a PCM byte buffer.
func Duration(dataLen int) time.Duration {
	samples := dataLen / tts.BytesPerSample
	return time.Duration(float64(samples) / float64(tts.SampleRate) * float64(time.Second))
}

// Seconds returns the playback time of a PCM byte buffer in seconds.
func Seconds(dataLen int) float64 {
	return float64(dataLen/tts.BytesPerSample) / float64(tts.SampleRate)
}

// ToFloat32 converts 16-bit LE PCM to float32 samples in [-1, 1), the
// input format of the forced-alignment acoustic model.
func ToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/tts.BytesPerSample)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// FromFloat32 converts float32 samples to 16-bit LE PCM, clipping out
// of range values.
func FromFloat32(samples []float32) []byte {
	data := make([]byte, len(samples)*tts.BytesPerSample)
	for i, f := range samples {
		v := f * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(int16(v)))
	}
	return data
}
