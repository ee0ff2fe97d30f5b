package narration

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable matches any SynthesisError of kind Unavailable.
	ErrBackendUnavailable = errors.New("speech backend unavailable")
	// ErrOutputUnavailable is returned by a Player that has nowhere to play.
	// Chunks are still synthesized but count as unplayed.
	ErrOutputUnavailable = errors.New("audio output unavailable")
	// ErrClosed is returned by Speak after Close.
	ErrClosed = errors.New("sequencer closed")
)

// ErrorKind classifies synthesis failures.
type ErrorKind int

const (
	Unavailable ErrorKind = iota + 1
	RateLimited
	InvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case RateLimited:
		return "rate_limited"
	case InvalidInput:
		return "invalid_input"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// SynthesisError reports a failed synthesis request.
type SynthesisError struct {
	Kind ErrorKind
	Err  error
}

func (e *SynthesisError) Error() string {
	if e.Err == nil {
		return "synthesis " + e.Kind.String()
	}
	return fmt.Sprintf("synthesis %s: %v", e.Kind, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func (e *SynthesisError) Is(target error) bool {
	return target == ErrBackendUnavailable && e.Kind == Unavailable
}

// NewSynthesisError wraps err with kind.
func NewSynthesisError(kind ErrorKind, err error) *SynthesisError {
	return &SynthesisError{Kind: kind, Err: err}
}

// PlaybackError reports a chunk that could not be played.
type PlaybackError struct {
	Index int
	Err   error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback of chunk %d: %v", e.Index, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }
