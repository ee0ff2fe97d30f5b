package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/go-lullaby/internal/ambient"
	"github.com/example/go-lullaby/internal/narration"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []message
	fail     error
	drained  bool
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.messages = append(c.messages, message{subject: subj, data: data})
	return nil
}

func (c *fakeConn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drained = true
	return nil
}

func (c *fakeConn) decoded(t *testing.T) []Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Event, len(c.messages))
	for i, m := range c.messages {
		if err := json.Unmarshal(m.data, &out[i]); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}
	return out
}

func TestNATSPublisher_subjects(t *testing.T) {
	tests := []struct {
		prefix string
		typ    string
		want   string
	}{
		{"lullaby", ChunkStarted, "lullaby.narration.chunk_started"},
		{"lullaby.", AmbientChanged, "lullaby.ambient.changed"},
		{"", ThunderStruck, "ambient.thunder"},
	}

	for _, tt := range tests {
		conn := &fakeConn{}
		p := NewNATSPublisher(conn, tt.prefix)
		if err := p.Publish(context.Background(), Event{Type: tt.typ}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if got := conn.messages[0].subject; got != tt.want {
			t.Errorf("prefix %q type %q: subject %q, want %q", tt.prefix, tt.typ, got, tt.want)
		}
	}
}

func TestNATSPublisher_stampsTime(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "x")

	if err := p.Publish(context.Background(), Event{Type: NarrationError, ID: "n1", Error: "boom"}); err != nil {
		t.Fatal(err)
	}

	ev := conn.decoded(t)[0]
	if ev.Time.IsZero() {
		t.Fatal("time not set")
	}
	if ev.ID != "n1" || ev.Error != "boom" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestNATSPublisher_errors(t *testing.T) {
	conn := &fakeConn{fail: errors.New("nats: connection closed")}
	p := NewNATSPublisher(conn, "x")

	if err := p.Publish(context.Background(), Event{Type: ChunkStarted}); err == nil {
		t.Fatal("expected publish error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, Event{Type: ChunkStarted}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Publish with cancelled ctx = %v", err)
	}

	if err := p.Close(); err != nil || !conn.drained {
		t.Fatalf("Close = %v, drained = %v", err, conn.drained)
	}
}

func TestRecorder_narration(t *testing.T) {
	conn := &fakeConn{}
	r := NewRecorder(NewNATSPublisher(conn, "lullaby"), nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.ChunkStarted("n1", 0, 3)
	r.ChunkSkipped("n1", 1, 3, errors.New("rate limited"))
	r.NarrationError("n1", narration.ErrBackendUnavailable)
	r.NarrationFinished(narration.Result{ID: "n1", Total: 3, Played: 2, Skipped: 1})

	got := conn.decoded(t)
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4", len(got))
	}

	if got[0].Type != ChunkStarted || got[0].Chunk == nil || *got[0].Chunk != 0 || got[0].Total != 3 {
		t.Errorf("chunk started = %+v", got[0])
	}
	if got[1].Type != ChunkSkipped || *got[1].Chunk != 1 || got[1].Error != "rate limited" {
		t.Errorf("chunk skipped = %+v", got[1])
	}
	if got[2].Type != NarrationError || got[2].Error == "" {
		t.Errorf("narration error = %+v", got[2])
	}
	if got[3].Type != NarrationFinished || got[3].Played != 2 || got[3].Skipped != 1 {
		t.Errorf("finished = %+v", got[3])
	}
	for _, ev := range got {
		if !ev.Time.Equal(fixed) {
			t.Errorf("%s time = %v, want %v", ev.Type, ev.Time, fixed)
		}
	}
	if conn.messages[0].subject != "lullaby.narration.chunk_started" {
		t.Errorf("subject = %q", conn.messages[0].subject)
	}
}

func TestRecorder_ambient(t *testing.T) {
	conn := &fakeConn{}
	r := NewRecorder(NewNATSPublisher(conn, "lullaby"), nil)

	r.AmbientChanged(ambient.Rain, 0.4)
	r.AmbientChanged(ambient.None, 0)
	r.ThunderStruck(0.4)

	got := conn.decoded(t)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Effect != "rain" || got[0].Volume == nil || *got[0].Volume != 0.4 {
		t.Errorf("activate = %+v", got[0])
	}
	if got[1].Effect != "none" || got[1].Volume == nil || *got[1].Volume != 0 {
		t.Errorf("deactivate = %+v", got[1])
	}
	if got[2].Type != ThunderStruck || got[2].Effect != "lightning" {
		t.Errorf("thunder = %+v", got[2])
	}
}

func TestRecorder_publishFailureIsSwallowed(t *testing.T) {
	conn := &fakeConn{fail: errors.New("down")}
	r := NewRecorder(NewNATSPublisher(conn, "x"), nil)

	r.ChunkStarted("n1", 0, 1)
	r.AmbientChanged(ambient.Snow, 1)

	r = NewRecorder(nil, nil)
	r.NarrationFinished(narration.Result{})
}
