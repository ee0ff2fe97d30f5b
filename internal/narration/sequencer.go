// Package narration plays long text as a gapless sequence of synthesized
// chunks. Synthesis for every chunk is dispatched up front and runs
// concurrently; playback consumes the results strictly in order.
package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/example/go-lullaby/internal/text"
)

const (
	DefaultShortTextThreshold = 1000
	DefaultMaxChunkUnits      = 800

	releaseTimeout = 5 * time.Second
)

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithShortTextThreshold sets the length (in runes) up to which text is
// synthesized as a single chunk.
func WithShortTextThreshold(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithMaxChunkUnits sets the maximum chunk length for long text.
func WithMaxChunkUnits(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.maxUnits = n
		}
	}
}

// WithMaxInFlight caps concurrent synthesis requests. Zero means unlimited.
func WithMaxInFlight(n int) Option {
	return func(s *Sequencer) {
		if n >= 0 {
			s.maxInFlight = n
		}
	}
}

// WithChunkGap inserts silence between consecutive chunks.
func WithChunkGap(d time.Duration) Option {
	return func(s *Sequencer) {
		if d >= 0 {
			s.gap = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers o for progress notifications.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithReadyCheck sets a health check run before the first narration. Until it
// passes, narrations fail fast with an error matching ErrBackendUnavailable
// and nothing is synthesized. A passing result is remembered.
func WithReadyCheck(check func(context.Context) error) Option {
	return func(s *Sequencer) {
		s.readyCheck = check
	}
}

// Sequencer owns the single narration output. Starting a new narration
// stops the previous one; enqueued narrations wait their turn.
type Sequencer struct {
	backend Backend
	player  Player

	threshold   int
	maxUnits    int
	maxInFlight int
	gap         time.Duration
	logger      *slog.Logger
	observer    Observer
	readyCheck  func(context.Context) error

	gen   atomic.Uint64
	ready atomic.Bool
	wg    sync.WaitGroup

	mu     sync.Mutex
	cur    *run
	queue  []queued
	closed bool
}

// queued is a narration waiting for the output.
type queued struct {
	id    string
	ctx   context.Context
	input string
	voice string
}

// New returns a Sequencer that synthesizes with backend and plays through
// player.
func New(backend Backend, player Player, opts ...Option) *Sequencer {
	s := &Sequencer{
		backend:   backend,
		player:    player,
		threshold: DefaultShortTextThreshold,
		maxUnits:  DefaultMaxChunkUnits,
		logger:    slog.Default(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// run is one narration. Its mutex guards chunk states, the cursor and the
// stored clips.
type run struct {
	id     string
	gen    uint64
	voice  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	chunks  []Chunk
	futures []*future
	cursor  int
	active  bool
	closed  bool
}

// future is closed when its chunk's synthesis completes.
type future struct {
	ready chan struct{}
	clip  Clip
	err   error
	taken bool
}

// Plan returns the chunks Speak would synthesize for input.
func (s *Sequencer) Plan(input string) []Chunk {
	if text.UnitLen(input) <= s.threshold {
		return []Chunk{{Index: 0, Text: input}}
	}

	segments := text.SplitNarration(input, s.maxUnits)
	chunks := make([]Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = Chunk{Index: i, Text: seg.Text}
	}

	return chunks
}

// Speak narrates input with voice and blocks until every chunk has been
// played or skipped, or the narration is stopped. A previous narration is
// stopped first.
//
// A backend outage is reported once: through Observer.NarrationError and as
// the returned error, which matches ErrBackendUnavailable. Chunks that were
// synthesized still play.
func (s *Sequencer) Speak(ctx context.Context, input, voice string) (Result, error) {
	r, prev, err := s.prepare(ctx, input, voice)
	if err != nil {
		return Result{}, err
	}

	return s.narrate(r, prev)
}

// Start begins narrating input in the background and returns the narration
// id. ctx bounds the whole narration, not just the call. The outcome is
// reported through the Observer and Status.
func (s *Sequencer) Start(ctx context.Context, input, voice string) (string, error) {
	r, prev, err := s.prepare(ctx, input, voice)
	if err != nil {
		return "", err
	}

	go func() {
		_, _ = s.narrate(r, prev)
	}()

	return r.id, nil
}

func (s *Sequencer) prepare(ctx context.Context, input, voice string) (*run, *run, error) {
	normalized, err := text.Normalize(input)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrClosed
	}
	s.dropQueueLocked()

	r, prev := s.beginLocked(ctx, uuid.NewString(), normalized, voice)
	return r, prev, nil
}

// Enqueue schedules input to play after the current narration and every
// narration enqueued before it. It returns the narration id at once. An idle
// sequencer starts it immediately.
func (s *Sequencer) Enqueue(ctx context.Context, input, voice string) (string, error) {
	normalized, err := text.Normalize(input)
	if err != nil {
		return "", err
	}
	if err := s.ensureReady(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	item := queued{id: uuid.NewString(), ctx: ctx, input: normalized, voice: voice}
	busy := s.cur != nil && s.cur.gen == s.gen.Load() && s.cur.isActive()
	if len(s.queue) > 0 || busy {
		s.queue = append(s.queue, item)
		s.logger.Debug("narration queued", "narration", item.id, "position", len(s.queue))
		return item.id, nil
	}

	r, prev := s.beginLocked(item.ctx, item.id, item.input, item.voice)
	go func() {
		_, _ = s.narrate(r, prev)
	}()

	return item.id, nil
}

// advance starts the next queued narration once r has finished, unless r
// was stopped or replaced. Queued narrations whose context ended are dropped.
func (s *Sequencer) advance(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cur != r || s.gen.Load() != r.gen {
		return
	}

	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		if item.ctx.Err() != nil {
			s.logger.Debug("queued narration cancelled", "narration", item.id)
			continue
		}

		next, prev := s.beginLocked(item.ctx, item.id, item.input, item.voice)
		go func() {
			_, _ = s.narrate(next, prev)
		}()
		return
	}
}

func (s *Sequencer) dropQueueLocked() {
	if n := len(s.queue); n > 0 {
		s.logger.Debug("narration queue cleared", "dropped", n)
	}
	s.queue = nil
}

func (s *Sequencer) ensureReady(ctx context.Context) error {
	if s.readyCheck == nil || s.ready.Load() {
		return nil
	}

	if err := s.readyCheck(ctx); err != nil {
		s.logger.Warn("speech backend not ready", "error", err)
		return NewSynthesisError(Unavailable, fmt.Errorf("backend not ready: %w", err))
	}
	s.ready.Store(true)

	return nil
}

func (s *Sequencer) narrate(r, prev *run) (Result, error) {
	defer s.wg.Done()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	s.logger.Info("narration started",
		"narration", r.id,
		"total", len(r.chunks),
		"voice", r.voice,
	)

	s.dispatch(r)

	res, err := s.play(r)
	if !res.Stopped {
		s.advance(r)
	}

	return res, err
}

// beginLocked makes a new run current. The caller holds s.mu.
func (s *Sequencer) beginLocked(ctx context.Context, id, input, voice string) (*run, *run) {
	chunks := s.Plan(input)
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:      id,
		gen:     s.gen.Add(1),
		voice:   voice,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		chunks:  chunks,
		futures: make([]*future, len(chunks)),
		active:  true,
	}
	for i := range r.futures {
		r.futures[i] = &future{ready: make(chan struct{})}
	}

	prev := s.cur
	s.cur = r
	s.wg.Add(1)

	return r, prev
}

// dispatch starts synthesis for every chunk in index order.
func (s *Sequencer) dispatch(r *run) {
	p := pool.New()
	if s.maxInFlight > 0 {
		p = p.WithMaxGoroutines(s.maxInFlight)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for i := range r.chunks {
			p.Go(func() { s.fetch(r, i) })
		}
		p.Wait()
	}()
}

func (s *Sequencer) fetch(r *run, i int) {
	if r.ctx.Err() != nil {
		r.complete(i, Clip{}, r.ctx.Err(), s)
		return
	}

	r.mu.Lock()
	chunkText := r.chunks[i].Text
	if !r.closed {
		r.chunks[i].State = Fetching
	}
	r.mu.Unlock()

	if s.backend == nil {
		r.complete(i, Clip{}, NewSynthesisError(Unavailable, errors.New("no backend configured")), s)
		return
	}

	start := time.Now()
	clip, err := s.backend.Synthesize(r.ctx, chunkText, r.voice)
	if err == nil {
		s.logger.Debug("chunk synthesized",
			"narration", r.id,
			"chunk", i,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	r.complete(i, clip, err, s)
}

// complete stores a synthesis result. Results arriving after the run was
// stopped or superseded are released and leave no trace.
func (r *run) complete(i int, clip Clip, err error, s *Sequencer) {
	f := r.futures[i]

	r.mu.Lock()
	stale := r.closed || s.superseded(r)
	if !stale {
		f.clip, f.err = clip, err
		if err != nil {
			r.chunks[i].State = Failed
		} else {
			r.chunks[i].State = Ready
		}
	}
	close(f.ready)
	r.mu.Unlock()

	if stale && err == nil {
		s.release(r, i, clip)
	}
}

func (s *Sequencer) play(r *run) (Result, error) {
	res := Result{ID: r.id, Total: len(r.chunks)}

	var (
		outage error
		silent bool
	)

	for i, f := range r.futures {
		select {
		case <-f.ready:
		case <-r.ctx.Done():
		}
		if s.superseded(r) {
			res.Stopped = true
			break
		}

		r.mu.Lock()
		clip, err := f.clip, f.err
		f.taken = true
		r.cursor = i
		r.mu.Unlock()

		if err != nil {
			r.setState(i, Skipped)
			res.Skipped++

			s.logger.Warn("chunk skipped",
				"narration", r.id,
				"chunk", i,
				"total", res.Total,
				"error", err,
			)
			s.observer.ChunkSkipped(r.id, i, res.Total, err)

			if outage == nil && errors.Is(err, ErrBackendUnavailable) {
				outage = err
				s.observer.NarrationError(r.id, err)
			}
			continue
		}

		s.observer.ChunkStarted(r.id, i, res.Total)

		perr := s.player.Play(r.ctx, clip)
		s.release(r, i, clip)

		if perr != nil && r.ctx.Err() != nil {
			res.Stopped = true
			break
		}
		if errors.Is(perr, ErrOutputUnavailable) {
			if !silent {
				silent = true
				s.logger.Warn("no audio output, narration continues without playback",
					"narration", r.id,
					"error", perr,
				)
			}
			r.setState(i, Skipped)
			res.Unplayed++
			continue
		}
		if perr != nil {
			s.logger.Error("chunk playback failed",
				"narration", r.id,
				"error", &PlaybackError{Index: i, Err: perr},
			)
		}

		r.setState(i, Played)
		res.Played++

		if s.gap > 0 && i < len(r.futures)-1 {
			t := time.NewTimer(s.gap)
			select {
			case <-t.C:
			case <-r.ctx.Done():
				t.Stop()
			}
		}
	}

	s.finish(r, res)

	if outage != nil {
		return res, fmt.Errorf("narration %s: %w", r.id, outage)
	}

	return res, nil
}

// finish closes the run and releases clips that were synthesized but never
// played. Chunks the cursor never finished are marked skipped.
func (s *Sequencer) finish(r *run, res Result) {
	r.mu.Lock()
	r.closed = true
	r.active = false
	for i := range r.chunks {
		if st := r.chunks[i].State; st != Played && st != Skipped {
			r.chunks[i].State = Skipped
		}
	}
	var unplayed []int
	for i, f := range r.futures {
		select {
		case <-f.ready:
			if !f.taken && f.err == nil {
				unplayed = append(unplayed, i)
			}
		default:
		}
	}
	r.mu.Unlock()

	for _, i := range unplayed {
		s.release(r, i, r.futures[i].clip)
	}

	r.cancel()

	s.logger.Info("narration finished",
		"narration", r.id,
		"total", res.Total,
		"played", res.Played,
		"skipped", res.Skipped,
		"unplayed", res.Unplayed,
		"stopped", res.Stopped,
	)
	s.observer.NarrationFinished(res)

	close(r.done)
}

func (s *Sequencer) release(r *run, i int, clip Clip) {
	if s.backend == nil || clip.Handle == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), releaseTimeout)
	defer cancel()

	if err := s.backend.Release(ctx, clip.Handle); err != nil {
		s.logger.Debug("release failed", "narration", r.id, "chunk", i, "error", err)
	}
}

// superseded reports whether r was stopped or replaced by a newer narration.
func (s *Sequencer) superseded(r *run) bool {
	return r.ctx.Err() != nil || s.gen.Load() != r.gen
}

func (r *run) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *run) setState(i int, st ChunkState) {
	r.mu.Lock()
	r.chunks[i].State = st
	r.mu.Unlock()
}

// Stop halts the current narration immediately and drops every queued one.
// It is safe to call at any time, any number of times.
func (s *Sequencer) Stop() {
	s.gen.Add(1)

	s.mu.Lock()
	r := s.cur
	s.dropQueueLocked()
	s.mu.Unlock()

	if r != nil {
		r.cancel()
	}
}

// Status returns a snapshot of the current or most recent narration.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	r := s.cur
	waiting := len(s.queue)
	s.mu.Unlock()

	if r == nil {
		return Status{Queued: waiting}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chunks := make([]Chunk, len(r.chunks))
	copy(chunks, r.chunks)

	return Status{
		ID:     r.id,
		Active: r.active,
		Cursor: r.cursor,
		Total:  len(r.chunks),
		Queued: waiting,
		Chunks: chunks,
	}
}

// Close stops the current narration and waits for all background work.
// Speak returns ErrClosed afterwards.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	s.wg.Wait()

	return nil
}
