// Package ambient synthesizes looping procedural soundscapes (rain, wind,
// campfire and friends) and plays them through an audio engine. At most one
// effect is active at a time.
package ambient

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/example/go-lullaby/internal/engine"
)

// Observer is told about soundscape changes.
type Observer interface {
	AmbientChanged(effect Effect, volume float64)
	ThunderStruck(volume float64)
}

type nopObserver struct{}

func (nopObserver) AmbientChanged(Effect, float64) {}
func (nopObserver) ThunderStruck(float64)          {}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger. A nil logger keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRand sets the noise source. Calls are serialized by the synthesizer.
func WithRand(r *rand.Rand) Option {
	return func(s *Synthesizer) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithThunderInterval sets the range thunder delays are drawn from.
func WithThunderInterval(min, max time.Duration) Option {
	return func(s *Synthesizer) {
		if min > 0 && max >= min {
			s.thunderMin, s.thunderMax = min, max
		}
	}
}

// WithBufferSeconds overrides the length of every looped layer buffer.
func WithBufferSeconds(sec float64) Option {
	return func(s *Synthesizer) {
		if sec > 0 {
			s.bufferSeconds = sec
		}
	}
}

// WithObserver receives effect changes and thunder strikes. A nil observer
// is ignored.
func WithObserver(o Observer) Option {
	return func(s *Synthesizer) {
		if o != nil {
			s.observer = o
		}
	}
}

// LayerInfo describes one playing layer.
type LayerInfo struct {
	Name     string  `json:"name"`
	Gain     float64 `json:"gain"`
	Loop     bool    `json:"loop"`
	Position int64   `json:"position"`
}

type voice struct {
	name string
	gain float64
	node *engine.Node
}

// Synthesizer owns the active soundscape. All methods are safe for
// concurrent use.
type Synthesizer struct {
	eng        engine.Engine
	logger     *slog.Logger
	observer   Observer
	thunderMin time.Duration
	thunderMax time.Duration
	thunder    *ThunderScheduler

	bufferSeconds float64

	mu       sync.Mutex
	rng      *rand.Rand
	gen      uint64
	active   Effect
	volume   float64
	layers   []voice
	bursts   map[*engine.Node]struct{}
	tornDown bool
}

// New returns a synthesizer playing through eng. A nil eng is allowed; every
// activation then logs and does nothing.
func New(eng engine.Engine, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		eng:        eng,
		logger:     slog.Default(),
		observer:   nopObserver{},
		thunderMin: DefaultThunderMin,
		thunderMax: DefaultThunderMax,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		active:     None,
		bursts:     make(map[*engine.Node]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.thunder = newThunderScheduler(s.thunderMin, s.thunderMax, s.drawInterval, s.strike)

	return s
}

// Activate replaces the current soundscape with effect at volume. Engine
// failures are logged and leave the synthesizer silent; only an unknown
// effect is reported as an error.
func (s *Synthesizer) Activate(effect Effect, volume float64) error {
	effect, err := ParseEffect(string(effect))
	if err != nil {
		return err
	}
	if effect == None {
		s.Deactivate()
		return nil
	}

	volume = clamp01(volume)

	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		s.logger.Debug("ambient activate after teardown ignored", "effect", effect)
		return nil
	}

	stale := s.detachLocked()
	s.gen++
	gen := s.gen

	if s.eng == nil {
		s.mu.Unlock()
		stopNodes(stale)
		s.logger.Warn("ambient effect not started", "effect", effect, "error", engine.ErrEngineUnavailable)
		return nil
	}

	layers, err := s.startLayersLocked(effect, volume)
	if err != nil {
		s.mu.Unlock()
		stopNodes(stale)
		s.logger.Warn("ambient effect not started", "effect", effect, "error", err)
		return nil
	}

	s.active = effect
	s.volume = volume
	s.layers = layers
	if effect == Lightning {
		s.thunder.arm(gen)
	}
	s.mu.Unlock()

	stopNodes(stale)

	s.logger.Info("ambient effect active", "effect", effect, "volume", volume, "layers", len(layers))
	s.observer.AmbientChanged(effect, volume)

	return nil
}

func (s *Synthesizer) startLayersLocked(effect Effect, volume float64) ([]voice, error) {
	rate := s.eng.SampleRate()

	var started []voice
	for _, l := range layersFor(effect) {
		if s.bufferSeconds > 0 {
			l.seconds = s.bufferSeconds
		}

		filter, err := l.newFilter(rate)
		if err != nil {
			stopVoices(started)
			return nil, err
		}

		node := engine.NewNode(
			engine.NewBuffer(l.render(rate, s.rng)),
			engine.Looping(),
			engine.WithFilters(filter),
			engine.WithGain(volume*l.gain),
		)
		if err := s.eng.Start(node); err != nil {
			stopVoices(started)
			return nil, err
		}

		started = append(started, voice{name: l.name, gain: l.gain, node: node})
	}

	return started, nil
}

// Deactivate stops the current soundscape. It is idempotent.
func (s *Synthesizer) Deactivate() {
	s.mu.Lock()
	wasActive := s.active != None
	stale := s.detachLocked()
	s.gen++
	s.mu.Unlock()

	stopNodes(stale)

	if wasActive {
		s.logger.Info("ambient effect stopped")
		s.observer.AmbientChanged(None, 0)
	}
}

// detachLocked disarms thunder and forgets every node. The returned nodes
// must be stopped after s.mu is released, since burst hooks take the lock.
func (s *Synthesizer) detachLocked() []*engine.Node {
	s.thunder.disarm()

	nodes := make([]*engine.Node, 0, len(s.layers)+len(s.bursts))
	for _, v := range s.layers {
		nodes = append(nodes, v.node)
	}
	for n := range s.bursts {
		nodes = append(nodes, n)
	}
	s.layers = nil
	clear(s.bursts)
	s.active = None

	return nodes
}

func stopNodes(nodes []*engine.Node) {
	for _, n := range nodes {
		n.Stop()
	}
}

func stopVoices(vs []voice) {
	for _, v := range vs {
		v.node.Stop()
	}
}

// SetVolume rescales every playing node, thunder included, without
// restarting anything.
func (s *Synthesizer) SetVolume(level float64) {
	level = clamp01(level)

	s.mu.Lock()
	s.volume = level
	for _, v := range s.layers {
		v.node.SetGain(level * v.gain)
	}
	thunderGain := thunderLayer().gain
	for n := range s.bursts {
		n.SetGain(level * thunderGain)
	}
	effect := s.active
	s.mu.Unlock()

	if effect != None {
		s.observer.AmbientChanged(effect, level)
	}
}

// Teardown stops playback, waits for the thunder scheduler and closes the
// engine. The synthesizer ignores all later calls.
func (s *Synthesizer) Teardown() error {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return nil
	}
	stale := s.detachLocked()
	s.gen++
	s.tornDown = true
	s.mu.Unlock()

	stopNodes(stale)

	s.thunder.wait()

	if s.eng == nil {
		return nil
	}
	return s.eng.Close()
}

// Active returns the playing effect, or None.
func (s *Synthesizer) Active() Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Volume returns the current effect volume.
func (s *Synthesizer) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Layers describes the looped layers of the active effect.
func (s *Synthesizer) Layers() []LayerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]LayerInfo, len(s.layers))
	for i, v := range s.layers {
		out[i] = LayerInfo{
			Name:     v.name,
			Gain:     v.node.Gain(),
			Loop:     v.node.Loop(),
			Position: v.node.Position(),
		}
	}

	return out
}

// ThunderArmed reports whether thunder bursts are scheduled.
func (s *Synthesizer) ThunderArmed() bool {
	return s.thunder.Armed()
}

func (s *Synthesizer) drawInterval(min, max time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int64N(int64(max-min)))
}

// strike plays one thunder burst if lightning is still active for gen.
func (s *Synthesizer) strike(gen uint64) bool {
	s.mu.Lock()
	if s.tornDown || s.active != Lightning || s.gen != gen || s.eng == nil {
		s.mu.Unlock()
		return false
	}

	l := thunderLayer()
	rate := s.eng.SampleRate()
	filter, err := l.newFilter(rate)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("thunder burst failed", "error", err)
		return true
	}

	node := engine.NewNode(
		engine.NewBuffer(l.render(rate, s.rng)),
		engine.WithFilters(filter),
		engine.WithGain(s.volume*l.gain),
	)
	if err := s.eng.Start(node); err != nil {
		s.mu.Unlock()
		s.logger.Warn("thunder burst failed", "error", err)
		return true
	}
	s.bursts[node] = struct{}{}
	volume := s.volume
	s.mu.Unlock()

	node.OnEnded(func() {
		s.mu.Lock()
		delete(s.bursts, node)
		s.mu.Unlock()
	})

	s.logger.Debug("thunder", "effect", Lightning, "volume", volume)
	s.observer.ThunderStruck(volume)

	return true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
