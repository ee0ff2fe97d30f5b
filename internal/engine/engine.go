// Package engine renders concurrent playback nodes into a single mono output.
//
// The Mixer is a software engine: callers pull rendered audio with Render or
// Read, or let Run pace frames in real time onto a channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/example/go-lullaby/internal/audio"
	"github.com/example/go-lullaby/internal/narration"
)

var (
	// ErrEngineUnavailable is returned when no audio output can be created.
	// It matches narration.ErrOutputUnavailable.
	ErrEngineUnavailable = fmt.Errorf("audio engine: %w", narration.ErrOutputUnavailable)
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("audio engine closed")
	// ErrNodeStarted is returned when a node is started twice.
	ErrNodeStarted = errors.New("node already started")
)

// DefaultFrameDuration is the Run frame size.
const DefaultFrameDuration = 20 * time.Millisecond

// Engine accepts playback nodes.
type Engine interface {
	SampleRate() int
	Start(n *Node) error
	Close() error
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mixer) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFrameDuration sets the frame length used by Run.
func WithFrameDuration(d time.Duration) Option {
	return func(m *Mixer) {
		if d > 0 {
			m.frame = d
		}
	}
}

// Mixer sums active nodes into one output.
type Mixer struct {
	rate   int
	frame  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	nodes   []*Node
	closed  bool
	scratch []float32
}

// NewMixer returns a mixer running at sampleRate. A non-positive rate
// selects audio.ExpectedSampleRate.
func NewMixer(sampleRate int, opts ...Option) *Mixer {
	if sampleRate <= 0 {
		sampleRate = audio.ExpectedSampleRate
	}

	m := &Mixer{
		rate:   sampleRate,
		frame:  DefaultFrameDuration,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Mixer) SampleRate() int { return m.rate }

// FrameSamples returns the number of samples in one Run frame.
func (m *Mixer) FrameSamples() int {
	return int(int64(m.rate) * int64(m.frame) / int64(time.Second))
}

// Start adds n to the mix.
func (m *Mixer) Start(n *Node) error {
	if n == nil {
		return errors.New("nil node")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if !n.started.CompareAndSwap(false, true) {
		return ErrNodeStarted
	}
	if n.ended() {
		return nil
	}

	m.nodes = append(m.nodes, n)
	m.logger.Debug("node started", "loop", n.loop, "samples", n.buf.Len(), "active", len(m.nodes))

	return nil
}

// Active returns the number of nodes in the mix.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

// Render overwrites dst with the next len(dst) samples of the mix, clamped
// to [-1, 1]. Nodes that ended are removed and their Done channels closed.
func (m *Mixer) Render(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}

	m.mu.Lock()
	var finished []*Node
	live := m.nodes[:0]
	for _, n := range m.nodes {
		if n.ended() {
			continue
		}
		if n.mixInto(dst) {
			finished = append(finished, n)
			continue
		}
		live = append(live, n)
	}
	for i := len(live); i < len(m.nodes); i++ {
		m.nodes[i] = nil
	}
	m.nodes = live
	m.mu.Unlock()

	for i, s := range dst {
		if s > 1 {
			dst[i] = 1
		} else if s < -1 {
			dst[i] = -1
		}
	}

	// Hooks may call back into the mixer.
	for _, n := range finished {
		n.finish()
	}
}

// Read renders float32 little-endian samples into p. It implements
// io.Reader for pull-based outputs and returns io.EOF after Close.
func (m *Mixer) Read(p []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, io.EOF
	}

	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}

	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	buf := m.scratch[:n]
	m.Render(buf)
	audio.PutFloat32LE(p, buf)

	return n * 4, nil
}

// Run renders one frame per tick and sends it on out until ctx is done.
func (m *Mixer) Run(ctx context.Context, out chan<- []float32) {
	ticker := time.NewTicker(m.frame)
	defer ticker.Stop()

	size := m.FrameSamples()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := make([]float32, size)
		m.Render(frame)

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops every node. Later Start calls return ErrClosed.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	nodes := m.nodes
	m.nodes = nil
	m.mu.Unlock()

	for _, n := range nodes {
		n.Stop()
	}

	return nil
}
