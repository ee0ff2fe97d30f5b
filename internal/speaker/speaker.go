// Package speaker plays a float32 sample stream on the default audio device.
package speaker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hajimehoshi/oto/v2"

	"github.com/example/go-lullaby/internal/engine"
)

const (
	channelCount = 1
	// formatFloat32LE matches oto.FormatFloat32LE and engine.Mixer.Read.
	formatFloat32LE = oto.FormatFloat32LE
)

// oto allows a single context per process.
var device struct {
	once  sync.Once
	ctx   *oto.Context
	ready chan struct{}
	rate  int
	err   error
}

func deviceContext(sampleRate int) (*oto.Context, chan struct{}, error) {
	device.once.Do(func() {
		device.rate = sampleRate
		device.ctx, device.ready, device.err = oto.NewContext(sampleRate, channelCount, formatFloat32LE)
	})

	if device.err != nil {
		return nil, nil, device.err
	}
	if device.rate != sampleRate {
		return nil, nil, fmt.Errorf("device already opened at %d Hz", device.rate)
	}

	return device.ctx, device.ready, nil
}

// Speaker pulls audio from a reader and plays it until closed.
type Speaker struct {
	player oto.Player
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open starts playing r, a stream of mono float32 little-endian samples at
// sampleRate. It waits for the device to become ready or ctx to end. Any
// device failure wraps engine.ErrEngineUnavailable.
func Open(ctx context.Context, r io.Reader, sampleRate int, logger *slog.Logger) (*Speaker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	otoCtx, ready, err := deviceContext(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	player := otoCtx.NewPlayer(r)
	player.Play()
	logger.Info("speaker output started", "sample_rate", sampleRate)

	return &Speaker{player: player, logger: logger}, nil
}

// Err reports a playback error from the underlying player, if any.
func (s *Speaker) Err() error {
	if err := s.player.Err(); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)
	}
	return nil
}

// SetVolume sets the device-level volume in [0, 1].
func (s *Speaker) SetVolume(v float64) {
	s.player.SetVolume(v)
}

// Close stops playback. It is safe to call more than once.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.player.Close()
		s.logger.Info("speaker output stopped")
	})
	return s.closeErr
}
