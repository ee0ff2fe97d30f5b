package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/go-lullaby/internal/audio"
	"github.com/example/go-lullaby/internal/narration"
)

// ClipPlayer plays narration clips as one-shot nodes on an Engine.
type ClipPlayer struct {
	eng  Engine
	gain float64
}

// NewClipPlayer returns a player that starts clips on e at gain.
func NewClipPlayer(e Engine, gain float64) *ClipPlayer {
	return &ClipPlayer{eng: e, gain: gain}
}

// Play blocks until the clip has been rendered or ctx is cancelled. On
// cancellation the node is stopped so playback halts at once.
func (p *ClipPlayer) Play(ctx context.Context, clip narration.Clip) error {
	if p.eng == nil {
		return ErrEngineUnavailable
	}

	samples, err := audio.DecodeWAV(clip.Audio)
	if err != nil {
		return fmt.Errorf("decode clip %s: %w", clip.Handle, err)
	}

	n := NewNode(NewBuffer(samples), WithGain(p.gain))
	if err := p.eng.Start(n); err != nil {
		return fmt.Errorf("start clip %s: %w", clip.Handle, err)
	}

	select {
	case <-n.Done():
		return nil
	case <-ctx.Done():
		n.Stop()
		return ctx.Err()
	}
}

// Recorder is a narration player that appends every clip to an in-memory
// track instead of playing it.
type Recorder struct {
	mu      sync.Mutex
	samples []float32
}

func (r *Recorder) Play(ctx context.Context, clip narration.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	samples, err := audio.DecodeWAV(clip.Audio)
	if err != nil {
		return fmt.Errorf("decode clip %s: %w", clip.Handle, err)
	}

	r.mu.Lock()
	r.samples = append(r.samples, samples...)
	r.mu.Unlock()

	return nil
}

// Track returns a copy of everything recorded so far.
func (r *Recorder) Track() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, len(r.samples))
	copy(out, r.samples)

	return out
}
