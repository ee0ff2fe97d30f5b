package speech

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/go-lullaby/internal/config"
	"github.com/example/go-lullaby/internal/narration"
)

// NewBackend builds the backend selected by cfg.Backend.
func NewBackend(cfg config.TTSConfig, voices *VoiceManager, logger *slog.Logger) (narration.Backend, error) {
	backend, err := config.NormalizeBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendCLI:
		return NewCLIBackend(CLIOptions{
			ExecutablePath: cfg.CLIPath,
			ConfigPath:     cfg.CLIConfigPath,
			Quiet:          cfg.Quiet,
			Concurrency:    cfg.Concurrency,
			Voices:         voices,
			Logger:         logger,
		}), nil
	default:
		return NewHTTPBackend(cfg.BaseURL,
			WithTimeout(time.Duration(cfg.Timeout)*time.Second),
			WithHTTPLogger(logger),
		), nil
	}
}

// ReadyCheck returns b's health check, or nil when b has none. Only the
// HTTP backend can report readiness; a missing CLI surfaces on first use.
func ReadyCheck(b narration.Backend) func(context.Context) error {
	if p, ok := b.(interface{ Ping(context.Context) error }); ok {
		return p.Ping
	}
	return nil
}
