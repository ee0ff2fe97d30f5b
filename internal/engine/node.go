package engine

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/example/go-lullaby/internal/audio"
)

// Buffer is an immutable block of mono samples at the engine sample rate.
type Buffer struct {
	samples []float32
}

// NewBuffer wraps samples. The caller must not modify samples afterwards.
func NewBuffer(samples []float32) *Buffer {
	return &Buffer{samples: samples}
}

// Len returns the buffer length in samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Node is one playback path: buffer, optional filter chain, gain.
// Gain and position are safe to read and update from any goroutine; the
// filter chain is only touched by the mixer's render loop.
type Node struct {
	buf     *Buffer
	loop    bool
	filters audio.FilterChain

	gain    atomic.Uint64
	pos     atomic.Int64
	started atomic.Bool

	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	onEnded []func()

	scratch []float32
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// Looping makes the node repeat its buffer until stopped.
func Looping() NodeOption {
	return func(n *Node) { n.loop = true }
}

// WithGain sets the initial gain.
func WithGain(g float64) NodeOption {
	return func(n *Node) { n.SetGain(g) }
}

// WithFilters routes the node through fs in order.
func WithFilters(fs ...audio.Filter) NodeOption {
	return func(n *Node) { n.filters = append(n.filters, fs...) }
}

// NewNode creates an unstarted node playing buf.
func NewNode(buf *Buffer, opts ...NodeOption) *Node {
	n := &Node{
		buf:  buf,
		done: make(chan struct{}),
	}
	n.SetGain(1)

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// SetGain changes the gain immediately without touching the play position.
func (n *Node) SetGain(g float64) {
	n.gain.Store(math.Float64bits(g))
}

// Gain returns the current gain.
func (n *Node) Gain() float64 {
	return math.Float64frombits(n.gain.Load())
}

// Position returns the number of samples rendered so far.
func (n *Node) Position() int64 {
	return n.pos.Load()
}

// Loop reports whether the node repeats.
func (n *Node) Loop() bool { return n.loop }

// Done is closed once the node has ended, either by running out of samples
// or through Stop.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// OnEnded registers fn to run once when the node ends. If the node has
// already ended, fn runs immediately.
func (n *Node) OnEnded(fn func()) {
	n.mu.Lock()
	select {
	case <-n.done:
		n.mu.Unlock()
		fn()
		return
	default:
	}
	n.onEnded = append(n.onEnded, fn)
	n.mu.Unlock()
}

// Stop ends the node. It is safe to call more than once and before Start.
func (n *Node) Stop() {
	n.finish()
}

func (n *Node) ended() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func (n *Node) finish() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		close(n.done)
		hooks := n.onEnded
		n.onEnded = nil
		n.mu.Unlock()

		for _, fn := range hooks {
			fn()
		}
	})
}

// mixInto adds up to len(dst) samples into dst and reports whether the node
// ran out of samples.
func (n *Node) mixInto(dst []float32) (exhausted bool) {
	total := n.buf.Len()
	if total == 0 {
		return true
	}

	if cap(n.scratch) < len(dst) {
		n.scratch = make([]float32, len(dst))
	}
	src := n.scratch[:len(dst)]

	pos := n.pos.Load()
	filled := 0
	for filled < len(src) {
		off := int(pos % int64(total))
		if !n.loop && pos >= int64(total) {
			break
		}
		c := copy(src[filled:], n.buf.samples[off:])
		filled += c
		pos += int64(c)
	}
	for i := filled; i < len(src); i++ {
		src[i] = 0
	}
	n.pos.Store(pos)

	n.filters.Process(src)

	g := float32(n.Gain())
	for i := range src {
		dst[i] += src[i] * g
	}

	return !n.loop && pos >= int64(total)
}
