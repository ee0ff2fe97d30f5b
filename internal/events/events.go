// Package events publishes narration and ambient lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types. The NATS subject is "{prefix}.{type}".
const (
	ChunkStarted      = "narration.chunk_started"
	ChunkSkipped      = "narration.chunk_skipped"
	NarrationFinished = "narration.finished"
	NarrationError    = "narration.error"
	AmbientChanged    = "ambient.changed"
	ThunderStruck     = "ambient.thunder"
)

// Event is one lifecycle notification.
type Event struct {
	Type    string    `json:"type"`
	ID      string    `json:"id,omitempty"`
	Effect  string    `json:"effect,omitempty"`
	Volume  *float64  `json:"volume,omitempty"`
	Chunk   *int      `json:"chunk,omitempty"`
	Total   int       `json:"total,omitempty"`
	Played  int       `json:"played,omitempty"`
	Skipped int       `json:"skipped,omitempty"`
	Stopped bool      `json:"stopped,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher publishes JSON events to NATS core subjects.
type NATSPublisher struct {
	conn   Conn
	prefix string
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Dial connects to url. The connection retries in the background, so a
// server that is down at startup does not fail the call.
func Dial(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("lullaby"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("events disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("events reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	return NewNATSPublisher(nc, prefix), nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}

	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
