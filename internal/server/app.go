package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/go-lullaby/internal/ambient"
	"github.com/example/go-lullaby/internal/config"
	"github.com/example/go-lullaby/internal/engine"
	"github.com/example/go-lullaby/internal/events"
	"github.com/example/go-lullaby/internal/narration"
	"github.com/example/go-lullaby/internal/speaker"
	"github.com/example/go-lullaby/internal/speech"
	"github.com/example/go-lullaby/internal/stream"
)

// Server wires the audio graph and the HTTP handler into a net/http.Server
// with graceful shutdown.
type Server struct {
	cfg             config.Config
	backend         narration.Backend
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a server for cfg. A nil backend is built from cfg.TTS.
func New(cfg config.Config, backend narration.Backend) *Server {
	shutdown := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	return &Server{
		cfg:             cfg,
		backend:         backend,
		logger:          slog.Default(),
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger overrides the logger handed to every component.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	return s
}

// Start serves until ctx is done, then drains requests and tears the audio
// graph down.
func (s *Server) Start(ctx context.Context) error {
	if _, err := config.NormalizeBackend(s.cfg.TTS.Backend); err != nil {
		return err
	}

	voices, err := speech.LoadVoices(s.cfg.Paths.VoiceManifest)
	if err != nil {
		s.logger.Debug("voice manifest not loaded", "path", s.cfg.Paths.VoiceManifest, "error", err)
	}

	backend := s.backend
	if backend == nil {
		backend, err = speech.NewBackend(s.cfg.TTS, voices, s.logger)
		if err != nil {
			return fmt.Errorf("initialize speech backend: %w", err)
		}
	}

	runCtx, stopAudio := context.WithCancel(context.WithoutCancel(ctx))
	defer stopAudio()

	g := s.buildGraph(runCtx, backend)
	defer g.close()

	handler := NewHandler(backend, voices,
		WithWorkers(chooseWorkerLimit(s.cfg)),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithLogger(s.logger),
		WithSoundscape(g.ambient),
		WithNarrator(g.narrator),
		WithStream(stream.NewWAVHandler(g.broadcaster, g.mixer.SampleRate(), s.logger)),
		WithDefaultVoice(s.cfg.TTS.Voice),
		WithDefaultVolume(s.cfg.Ambient.Volume),
		WithBaseContext(runCtx),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Live streams never go idle on their own.
	httpServer.RegisterOnShutdown(g.broadcaster.Close)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("server listening", "addr", s.cfg.Server.ListenAddr, "backend", s.cfg.TTS.Backend)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// graph is the running audio pipeline: one mixer shared by ambient and
// narration, fanned out to stream listeners and optionally the speaker.
type graph struct {
	mixer       *engine.Mixer
	ambient     *ambient.Synthesizer
	narrator    *narration.Sequencer
	broadcaster *stream.Broadcaster
	publisher   events.Publisher
	speaker     *speaker.Speaker
	logger      *slog.Logger
}

func (s *Server) buildGraph(ctx context.Context, backend narration.Backend) *graph {
	cfg := s.cfg

	g := &graph{
		mixer:       engine.NewMixer(cfg.Ambient.SampleRate, engine.WithLogger(s.logger)),
		broadcaster: stream.NewBroadcaster(),
		publisher:   s.publisher(),
		logger:      s.logger,
	}

	recorder := events.NewRecorder(g.publisher, s.logger)

	g.ambient = ambient.New(g.mixer,
		ambient.WithLogger(s.logger),
		ambient.WithObserver(recorder),
		ambient.WithThunderInterval(
			time.Duration(cfg.Ambient.ThunderMinMS)*time.Millisecond,
			time.Duration(cfg.Ambient.ThunderMaxMS)*time.Millisecond,
		),
	)

	var ready func(context.Context) error
	if cfg.Narration.ReadyCheck {
		ready = speech.ReadyCheck(backend)
	}

	g.narrator = narration.New(backend, engine.NewClipPlayer(g.mixer, 1),
		narration.WithShortTextThreshold(cfg.Narration.ShortTextThreshold),
		narration.WithMaxChunkUnits(cfg.Narration.MaxChunkUnits),
		narration.WithMaxInFlight(cfg.Narration.MaxInFlight),
		narration.WithChunkGap(time.Duration(cfg.Narration.ChunkGapMS)*time.Millisecond),
		narration.WithLogger(s.logger),
		narration.WithObserver(recorder),
		narration.WithReadyCheck(ready),
	)

	frames := make(chan []float32, 8)
	go g.mixer.Run(ctx, frames)
	go g.broadcaster.Run(ctx, frames)

	if cfg.Server.Speaker {
		l := g.broadcaster.Subscribe()
		spk, err := speaker.Open(ctx, stream.NewReader(l), g.mixer.SampleRate(), s.logger)
		if err != nil {
			s.logger.Warn("speaker output disabled", "error", err)
			g.broadcaster.Unsubscribe(l)
		} else {
			g.speaker = spk
		}
	}

	return g
}

func (s *Server) publisher() events.Publisher {
	if s.cfg.Events.NATSURL == "" {
		return events.Nop{}
	}

	pub, err := events.Dial(s.cfg.Events.NATSURL, s.cfg.Events.SubjectPrefix, s.logger)
	if err != nil {
		s.logger.Warn("event publishing disabled", "error", err)
		return events.Nop{}
	}

	return pub
}

func (g *graph) close() {
	_ = g.narrator.Close()
	if err := g.ambient.Teardown(); err != nil {
		g.logger.Warn("ambient teardown", "error", err)
	}
	g.broadcaster.Close()
	if g.speaker != nil {
		_ = g.speaker.Close()
	}
	if err := g.publisher.Close(); err != nil {
		g.logger.Debug("event publisher close", "error", err)
	}
}

// chooseWorkerLimit bounds concurrent POST /tts calls: server.workers, or
// tts.concurrency when that is unset.
func chooseWorkerLimit(cfg config.Config) int {
	workers := cfg.Server.Workers
	if workers <= 0 {
		workers = cfg.TTS.Concurrency
	}
	return workers
}
