package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/example/go-lullaby/internal/narration"
)

const stderrTail = 512

// CLIOptions configures a CLIBackend.
type CLIOptions struct {
	ExecutablePath string
	ConfigPath     string
	Quiet          bool
	Concurrency    int
	Voices         *VoiceManager
	Logger         *slog.Logger
}

// CLIBackend runs `pocket-tts generate` once per request, streaming text on
// stdin and reading WAV from stdout.
type CLIBackend struct {
	executablePath string
	configPath     string
	quiet          bool
	voices         *VoiceManager
	sem            chan struct{}
	logger         *slog.Logger
}

func NewCLIBackend(opts CLIOptions) *CLIBackend {
	exe := opts.ExecutablePath
	if exe == "" {
		exe = "pocket-tts"
	}

	b := &CLIBackend{
		executablePath: exe,
		configPath:     opts.ConfigPath,
		quiet:          opts.Quiet,
		voices:         opts.Voices,
		logger:         opts.Logger,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if opts.Concurrency > 0 {
		b.sem = make(chan struct{}, opts.Concurrency)
	}

	return b
}

func (c *CLIBackend) args(voice string) []string {
	args := []string{"generate", "--text", "-", "--output-path", "-"}
	if v := c.voices.ResolveVoice(strings.TrimSpace(voice)); v != "" {
		args = append(args, "--voice", v)
	}
	if c.configPath != "" {
		args = append(args, "--config", c.configPath)
	}
	if c.quiet {
		args = append(args, "--quiet")
	}
	return args
}

func (c *CLIBackend) Synthesize(ctx context.Context, text, voice string) (narration.Clip, error) {
	if c.sem != nil {
		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return narration.Clip{}, ctx.Err()
		}
		defer func() { <-c.sem }()
	}

	cmd := exec.CommandContext(ctx, c.executablePath, c.args(voice)...)
	cmd.Stdin = strings.NewReader(text)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return narration.Clip{}, ctx.Err()
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return narration.Clip{}, narration.NewSynthesisError(narration.InvalidInput,
				fmt.Errorf("%s exited with code %d: %s", c.executablePath, exitErr.ExitCode(), tail(stderr.String())))
		}

		// exec.ErrNotFound, permission errors and the like.
		return narration.Clip{}, narration.NewSynthesisError(narration.Unavailable, err)
	}

	return newClip(out.Bytes())
}

func (c *CLIBackend) Release(_ context.Context, handle string) error {
	c.logger.Debug("clip released", "handle", handle)
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
