// Package stream fans mixer output out to live listeners.
package stream

import (
	"context"
	"sync"
)

// ListenerBuffer is the number of frames a listener may lag behind before
// frames are dropped (about 3 s of 20 ms frames).
const ListenerBuffer = 150

// Broadcaster fans frames from one source out to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives frames from the broadcaster.
type Listener struct {
	C    chan []float32
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []float32, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes l and closes its Done channel. It is safe to call more
// than once.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads frames from source and fans them out until ctx is done or source
// is closed. Frames are shared between listeners and must not be modified.
// A listener whose buffer is full misses the frame.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []float32) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Close unsubscribes every listener, ending their streams.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	listeners := b.listeners
	b.listeners = make(map[*Listener]struct{})
	b.mu.Unlock()

	for l := range listeners {
		l.once.Do(func() { close(l.done) })
	}
}
