package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/go-lullaby/internal/ambient"
	"github.com/example/go-lullaby/internal/narration"
)

// Recorder turns narration and ambient callbacks into published events.
// It implements narration.Observer and ambient.Observer. Publish failures
// are logged and dropped.
type Recorder struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ narration.Observer = (*Recorder)(nil)
	_ ambient.Observer   = (*Recorder)(nil)
)

func NewRecorder(pub Publisher, logger *slog.Logger) *Recorder {
	if pub == nil {
		pub = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{pub: pub, logger: logger, now: time.Now}
}

func (r *Recorder) emit(ev Event) {
	ev.Time = r.now().UTC()
	if err := r.pub.Publish(context.Background(), ev); err != nil {
		r.logger.Warn("event dropped", "type", ev.Type, "error", err)
	}
}

func (r *Recorder) ChunkStarted(id string, index, total int) {
	r.emit(Event{Type: ChunkStarted, ID: id, Chunk: &index, Total: total})
}

func (r *Recorder) ChunkSkipped(id string, index, total int, err error) {
	ev := Event{Type: ChunkSkipped, ID: id, Chunk: &index, Total: total}
	if err != nil {
		ev.Error = err.Error()
	}
	r.emit(ev)
}

func (r *Recorder) NarrationFinished(res narration.Result) {
	r.emit(Event{
		Type:    NarrationFinished,
		ID:      res.ID,
		Total:   res.Total,
		Played:  res.Played,
		Skipped: res.Skipped,
		Stopped: res.Stopped,
	})
}

func (r *Recorder) NarrationError(id string, err error) {
	ev := Event{Type: NarrationError, ID: id}
	if err != nil {
		ev.Error = err.Error()
	}
	r.emit(ev)
}

func (r *Recorder) AmbientChanged(effect ambient.Effect, volume float64) {
	r.emit(Event{Type: AmbientChanged, Effect: string(effect), Volume: &volume})
}

func (r *Recorder) ThunderStruck(volume float64) {
	r.emit(Event{Type: ThunderStruck, Effect: string(ambient.Lightning), Volume: &volume})
}
