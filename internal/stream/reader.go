package stream

import (
	"io"

	"github.com/example/go-lullaby/internal/audio"
)

// Reader adapts a Listener to an io.Reader of float32 little-endian samples,
// the format the speaker pulls. Read blocks until a frame arrives and
// returns io.EOF once the listener is unsubscribed.
type Reader struct {
	l       *Listener
	pending []byte
}

func NewReader(l *Listener) *Reader {
	return &Reader{l: l}
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		select {
		case frame := <-r.l.C:
			r.pending = make([]byte, 4*len(frame))
			audio.PutFloat32LE(r.pending, frame)
		case <-r.l.done:
			return 0, io.EOF
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]

	return n, nil
}
