package narration

import (
	"context"
	"fmt"
	"time"
)

// Clip is one synthesized utterance. Audio holds WAV bytes; Handle
// identifies the clip to the backend for Release.
type Clip struct {
	Handle   string
	Audio    []byte
	Duration time.Duration
}

// Backend turns text into clips.
type Backend interface {
	Synthesize(ctx context.Context, text, voice string) (Clip, error)
	Release(ctx context.Context, handle string) error
}

// Player plays a clip and blocks until it has finished or ctx is done.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// Observer receives narration progress. Methods are called from the
// goroutine running Speak and must not block.
type Observer interface {
	ChunkStarted(id string, index, total int)
	ChunkSkipped(id string, index, total int, err error)
	NarrationFinished(r Result)
	NarrationError(id string, err error)
}

type nopObserver struct{}

func (nopObserver) ChunkStarted(string, int, int)        {}
func (nopObserver) ChunkSkipped(string, int, int, error) {}
func (nopObserver) NarrationFinished(Result)             {}
func (nopObserver) NarrationError(string, error)         {}

// ChunkState tracks one chunk from dispatch to playback.
type ChunkState int

const (
	Pending ChunkState = iota
	Fetching
	Ready
	Failed
	Played
	Skipped
)

func (s ChunkState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Played:
		return "played"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("ChunkState(%d)", int(s))
	}
}

// MarshalText encodes s by name.
func (s ChunkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *ChunkState) UnmarshalText(b []byte) error {
	for st := Pending; st <= Skipped; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown chunk state %q", b)
}

// Chunk is one unit of synthesis.
type Chunk struct {
	Index int        `json:"index"`
	Text  string     `json:"text"`
	State ChunkState `json:"state"`
}

// Status is a snapshot of the current or most recent narration.
type Status struct {
	ID     string  `json:"id,omitempty"`
	Active bool    `json:"active"`
	Cursor int     `json:"cursor"`
	Total  int     `json:"total"`
	Queued int     `json:"queued"`
	Chunks []Chunk `json:"chunks,omitempty"`
}

// Result summarizes a finished narration.
type Result struct {
	ID      string `json:"id"`
	Total   int    `json:"total"`
	Played  int    `json:"played"`
	Skipped int    `json:"skipped"`
	Stopped bool   `json:"stopped"`

	// Unplayed counts synthesized chunks the player had no output for.
	Unplayed int `json:"unplayed"`
}
