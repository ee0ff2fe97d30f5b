package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"voice manifest", cfg.Paths.VoiceManifest, "voices/manifest.json"},
		{"listen addr", cfg.Server.ListenAddr, ":8080"},
		{"server speaker off", cfg.Server.Speaker, false},
		{"backend", cfg.TTS.Backend, "http"},
		{"pocket-tts url", cfg.TTS.BaseURL, "http://127.0.0.1:8000"},
		{"one pocket-tts process", cfg.TTS.Concurrency, 1},
		{"short stories in one request", cfg.Narration.ShortTextThreshold, 1000},
		{"chunk size", cfg.Narration.MaxChunkUnits, 800},
		{"unlimited in-flight chunks", cfg.Narration.MaxInFlight, 0},
		{"no gap between chunks", cfg.Narration.ChunkGapMS, 0},
		{"backend health-checked", cfg.Narration.ReadyCheck, true},
		{"soft ambient volume", cfg.Ambient.Volume, 0.3},
		{"thunder every 3s at the earliest", cfg.Ambient.ThunderMinMS, 3000},
		{"thunder every 8s at the latest", cfg.Ambient.ThunderMaxMS, 8000},
		{"mixer rate matches speech", cfg.Ambient.SampleRate, 24000},
		{"events disabled", cfg.Events.NATSURL, ""},
		{"event subjects", cfg.Events.SubjectPrefix, "lullaby"},
		{"log level", cfg.LogLevel, "info"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v; want %v", tt.name, tt.got, tt.want)
		}
	}
}

// --- NormalizeBackend ---

func TestNormalizeBackend(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"http canonical", "http", "http", false},
		{"cli lowercase", "cli", "cli", false},
		{"server alias", "server", "http", false},
		{"remote alias uppercase", "REMOTE", "http", false},
		{"cli mixed case", "CLI", "cli", false},
		{"http with spaces", "  http  ", "http", false},
		{"empty defaults to http", "", "http", false},
		{"whitespace defaults to http", "   ", "http", false},
		{"invalid value", "onnx", "", true},
		{"invalid with spaces", "  bad  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBackend(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeBackend(%q) = %q, nil; want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Errorf("NormalizeBackend(%q) unexpected error: %v", tt.input, err)
				return
			}

			if got != tt.want {
				t.Errorf("NormalizeBackend(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"paths-voice-manifest", "voices/manifest.json"},
		{"backend", "http"},
		{"narration-max-chunk-units", "800"},
		{"narration-ready-check", "true"},
		{"volume", "0.3"},
		{"ambient-thunder-min-ms", "3000"},
		{"ambient-thunder-max-ms", "8000"},
		{"events-subject-prefix", "lullaby"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Errorf("Load() = %+v; want defaults %+v", cfg, defaults)
	}
}

func TestLoad_Flags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "quiet rain for a light sleeper",
			args: []string{"--volume=0.1", "--ambient-thunder-min-ms=10000", "--ambient-thunder-max-ms=20000"},
			check: func(t *testing.T, cfg Config) {
				if cfg.Ambient.Volume != 0.1 {
					t.Errorf("Ambient.Volume = %v; want 0.1", cfg.Ambient.Volume)
				}
				if cfg.Ambient.ThunderMinMS != 10000 || cfg.Ambient.ThunderMaxMS != 20000 {
					t.Errorf("thunder interval = [%d, %d); want [10000, 20000)", cfg.Ambient.ThunderMinMS, cfg.Ambient.ThunderMaxMS)
				}
			},
		},
		{
			name: "slow storyteller on a small machine",
			args: []string{"--backend=cli", "--narration-max-in-flight=1", "--narration-chunk-gap-ms=400"},
			check: func(t *testing.T, cfg Config) {
				if cfg.TTS.Backend != "cli" {
					t.Errorf("TTS.Backend = %q; want cli", cfg.TTS.Backend)
				}
				if cfg.Narration.MaxInFlight != 1 {
					t.Errorf("Narration.MaxInFlight = %d; want 1", cfg.Narration.MaxInFlight)
				}
				if cfg.Narration.ChunkGapMS != 400 {
					t.Errorf("Narration.ChunkGapMS = %d; want 400", cfg.Narration.ChunkGapMS)
				}
			},
		},
		{
			name: "skip the backend health check",
			args: []string{"--narration-ready-check=false"},
			check: func(t *testing.T, cfg Config) {
				if cfg.Narration.ReadyCheck {
					t.Error("Narration.ReadyCheck = true; want false")
				}
			},
		},
		{
			name: "nursery monitor publishes events",
			args: []string{"--events-nats-url=nats://127.0.0.1:4222", "--events-subject-prefix=nursery", "--server-speaker"},
			check: func(t *testing.T, cfg Config) {
				if cfg.Events.NATSURL != "nats://127.0.0.1:4222" {
					t.Errorf("Events.NATSURL = %q", cfg.Events.NATSURL)
				}
				if cfg.Events.SubjectPrefix != "nursery" {
					t.Errorf("Events.SubjectPrefix = %q; want nursery", cfg.Events.SubjectPrefix)
				}
				if !cfg.Server.Speaker {
					t.Error("Server.Speaker = false; want true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defaults := DefaultConfig()
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			RegisterFlags(fs, defaults)

			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			cfg, err := Load(LoadOptions{
				Cmd:      &fakeBinder{fs: fs},
				Defaults: defaults,
			})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			tt.check(t, cfg)
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("LULLABY_AMBIENT_VOLUME", "0.15")
	t.Setenv("LULLABY_NARRATION_READY_CHECK", "false")

	cfg, err := Load(LoadOptions{
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Ambient.Volume != 0.15 {
		t.Errorf("Ambient.Volume = %v; want 0.15", cfg.Ambient.Volume)
	}

	if cfg.Narration.ReadyCheck {
		t.Error("Narration.ReadyCheck = true; want false")
	}
}

func TestLoad_PocketTTSURLEnv(t *testing.T) {
	t.Setenv("POCKET_TTS_URL", "http://tts.internal:8000")

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TTS.BaseURL != "http://tts.internal:8000" {
		t.Errorf("TTS.BaseURL = %q; want %q", cfg.TTS.BaseURL, "http://tts.internal:8000")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "lullaby.yaml")

	content := `
log_level: debug
narration:
  chunk_gap_ms: 250
ambient:
  volume: 0.2
`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Aliased keys resolve to their flag names, so the file's values reach
	// the config through the bound flags.
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse([]string{"--log-level=debug", "--narration-chunk-gap-ms=250", "--volume=0.2"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:        &fakeBinder{fs: fs},
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want debug", cfg.LogLevel)
	}
	if cfg.Narration.ChunkGapMS != 250 {
		t.Errorf("Narration.ChunkGapMS = %d; want 250", cfg.Narration.ChunkGapMS)
	}
	if cfg.Ambient.Volume != 0.2 {
		t.Errorf("Ambient.Volume = %v; want 0.2", cfg.Ambient.Volume)
	}
	if cfg.Narration.ShortTextThreshold != defaults.Narration.ShortTextThreshold {
		t.Errorf("Narration.ShortTextThreshold = %d; want default %d", cfg.Narration.ShortTextThreshold, defaults.Narration.ShortTextThreshold)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")

	err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/lullaby.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}
