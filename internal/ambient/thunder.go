package ambient

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultThunderMin = 3 * time.Second
	DefaultThunderMax = 8 * time.Second
)

// ThunderScheduler fires one-shot thunder bursts at random intervals while
// armed. Each firing asks fire whether lightning is still the active effect
// for the generation it was armed with; a false answer disarms it.
type ThunderScheduler struct {
	min, max time.Duration
	interval func(min, max time.Duration) time.Duration
	fire     func(gen uint64) bool

	mu     sync.Mutex
	armed  bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newThunderScheduler(min, max time.Duration, interval func(min, max time.Duration) time.Duration, fire func(uint64) bool) *ThunderScheduler {
	return &ThunderScheduler{min: min, max: max, interval: interval, fire: fire}
}

// Armed reports whether a thunder loop is running.
func (t *ThunderScheduler) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// arm starts the firing loop for gen, replacing any previous loop.
func (t *ThunderScheduler) arm(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.armed = true

	t.wg.Add(1)
	go t.loop(ctx, gen)
}

// disarm cancels the firing loop without waiting for it.
func (t *ThunderScheduler) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.armed = false
}

// wait blocks until every loop has exited.
func (t *ThunderScheduler) wait() {
	t.wg.Wait()
}

func (t *ThunderScheduler) loop(ctx context.Context, gen uint64) {
	defer t.wg.Done()

	for {
		timer := time.NewTimer(t.interval(t.min, t.max))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return
		}

		if !t.fire(gen) {
			t.mu.Lock()
			// A newer arm may already own the scheduler.
			if ctx.Err() == nil {
				t.cancel()
				t.cancel = nil
				t.armed = false
			}
			t.mu.Unlock()
			return
		}
	}
}
