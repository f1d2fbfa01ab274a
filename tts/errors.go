package tts

import (
	"errors"
	"fmt"
)

// Synthesis errors.
var (
	ErrEngineNotInitialized = errors.New("synthesis engine is not initialized")
	ErrEmptyText            = errors.New("empty text provided")
	ErrTextTooLong          = errors.New("text exceeds engine limit")
	ErrInvalidEncoding      = errors.New("text is not valid UTF-8")
	ErrSynthesisFailed      = errors.New("synthesis failed")
)

// Alignment errors.
var (
	ErrModelNotInitialized = errors.New("alignment model is not initialized")
	ErrAudioConvertFailed  = errors.New("audio load/convert failed")
	ErrRecognitionFailed   = errors.New("recognition failed")
	ErrNoTimestamps        = errors.New("no timestamps produced")
	ErrInvalidAudioFormat  = errors.New("invalid audio format")
	ErrEmptyAudio          = errors.New("empty audio")
	ErrInferenceFailed     = errors.New("acoustic inference failed")
	ErrCacheRead           = errors.New("alignment cache read failed")
	ErrCacheWrite          = errors.New("alignment cache write failed")
)

// Pipeline errors.
var (
	ErrSentenceSkipped = errors.New("sentence was skipped")
	ErrWaitTimeout     = errors.New("timed out waiting for sentence")
	ErrQueueStopped    = errors.New("pipeline is stopped")
)

// SynthesisError wraps an engine failure with the reason the engine
// reported. Per-unit synthesis failures are contained: the unit is
// dropped and other units are unaffected.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("synthesis failed: %s", e.Reason)
	}
	return "synthesis failed"
}

func (e *SynthesisError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSynthesisFailed
}

// IsCacheError reports whether err is a cache read or write failure.
// Cache failures are always non-fatal: the in-memory result is still
// returned to the caller.
func IsCacheError(err error) bool {
	return errors.Is(err, ErrCacheRead) || errors.Is(err, ErrCacheWrite)
}
