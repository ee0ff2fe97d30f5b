package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/go-lullaby/internal/ambient"
	"github.com/example/go-lullaby/internal/audio"
	"github.com/example/go-lullaby/internal/config"
	"github.com/example/go-lullaby/internal/engine"
	"github.com/example/go-lullaby/internal/events"
	"github.com/example/go-lullaby/internal/narration"
	"github.com/example/go-lullaby/internal/speaker"
	"github.com/example/go-lullaby/internal/speech"
)

// openSpeaker is replaced in tests.
var openSpeaker = speaker.Open

// liveOutput is a mixer played on the local audio device with an ambient
// synthesizer attached. A headless output has no mixer or speaker; its
// engine is nil.
type liveOutput struct {
	mixer     *engine.Mixer
	engine    engine.Engine
	ambient   *ambient.Synthesizer
	speaker   *speaker.Speaker
	publisher events.Publisher
	recorder  *events.Recorder
}

func openLiveOutput(ctx context.Context, cfg config.Config) (*liveOutput, error) {
	logger := slog.Default()

	mixer := engine.NewMixer(cfg.Ambient.SampleRate, engine.WithLogger(logger))
	spk, err := openSpeaker(ctx, mixer, mixer.SampleRate(), logger)
	if err != nil {
		_ = mixer.Close()
		return nil, err
	}

	pub := newPublisher(cfg)
	rec := events.NewRecorder(pub, logger)

	return &liveOutput{
		mixer:  mixer,
		engine: mixer,
		ambient: ambient.New(mixer,
			ambient.WithLogger(logger),
			ambient.WithObserver(rec),
			ambient.WithThunderInterval(thunderInterval(cfg)),
		),
		speaker:   spk,
		publisher: pub,
		recorder:  rec,
	}, nil
}

// openOutputOrHeadless opens the audio device, falling back to a headless
// output when none is available. Synthesis still runs headless; only local
// playback is skipped.
func openOutputOrHeadless(ctx context.Context, cfg config.Config) (*liveOutput, error) {
	live, err := openLiveOutput(ctx, cfg)
	if err == nil {
		return live, nil
	}
	if !errors.Is(err, engine.ErrEngineUnavailable) {
		return nil, err
	}

	slog.Warn("audio device unavailable, continuing without playback", "error", err)

	pub := newPublisher(cfg)
	rec := events.NewRecorder(pub, slog.Default())

	return &liveOutput{
		ambient: ambient.New(nil,
			ambient.WithLogger(slog.Default()),
			ambient.WithObserver(rec),
		),
		publisher: pub,
		recorder:  rec,
	}, nil
}

func (o *liveOutput) close() {
	// Teardown closes the mixer, which ends the speaker's stream.
	if err := o.ambient.Teardown(); err != nil {
		slog.Warn("ambient teardown", "error", err)
	}
	if o.speaker != nil {
		if err := o.speaker.Close(); err != nil {
			slog.Warn("close speaker", "error", err)
		}
	}
	_ = o.publisher.Close()
}

func newPublisher(cfg config.Config) events.Publisher {
	if cfg.Events.NATSURL == "" {
		return events.Nop{}
	}

	pub, err := events.Dial(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, slog.Default())
	if err != nil {
		slog.Warn("event publishing disabled", "error", err)
		return events.Nop{}
	}

	return pub
}

func thunderInterval(cfg config.Config) (time.Duration, time.Duration) {
	return time.Duration(cfg.Ambient.ThunderMinMS) * time.Millisecond,
		time.Duration(cfg.Ambient.ThunderMaxMS) * time.Millisecond
}

func narrationOptions(cfg config.Config, extra ...narration.Option) []narration.Option {
	opts := []narration.Option{
		narration.WithShortTextThreshold(cfg.Narration.ShortTextThreshold),
		narration.WithMaxChunkUnits(cfg.Narration.MaxChunkUnits),
		narration.WithMaxInFlight(cfg.Narration.MaxInFlight),
		narration.WithChunkGap(time.Duration(cfg.Narration.ChunkGapMS) * time.Millisecond),
		narration.WithLogger(slog.Default()),
	}
	return append(opts, extra...)
}

// readyOption gates the first narration on the backend health check when
// the config asks for it.
func readyOption(cfg config.Config, backend narration.Backend) narration.Option {
	if !cfg.Narration.ReadyCheck {
		return narration.WithReadyCheck(nil)
	}
	return narration.WithReadyCheck(speech.ReadyCheck(backend))
}

// renderAmbientBed renders n samples of effect at volume without touching
// an audio device. Thunder is scheduled in wall-clock time, so offline beds
// carry the continuous layers only.
func renderAmbientBed(effect ambient.Effect, volume float64, n int) ([]float32, error) {
	mixer := engine.NewMixer(audio.ExpectedSampleRate)
	synth := ambient.New(mixer, ambient.WithLogger(slog.Default()))
	defer func() { _ = synth.Teardown() }()

	if err := synth.Activate(effect, volume); err != nil {
		return nil, err
	}

	out := make([]float32, n)
	frame := mixer.FrameSamples()
	for off := 0; off < n; off += frame {
		mixer.Render(out[off:min(off+frame, n)])
	}

	return out, nil
}

// mixInto adds bed onto track in place, clamped to [-1, 1].
func mixInto(track, bed []float32) {
	for i := range min(len(track), len(bed)) {
		s := track[i] + bed[i]
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		track[i] = s
	}
}
