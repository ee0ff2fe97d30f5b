package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Server    ServerConfig    `mapstructure:"server"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Narration NarrationConfig `mapstructure:"narration"`
	Ambient   AmbientConfig   `mapstructure:"ambient"`
	Events    EventsConfig    `mapstructure:"events"`
	LogLevel  string          `mapstructure:"log_level"`
}

type PathsConfig struct {
	VoiceManifest string `mapstructure:"voice_manifest"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	Speaker         bool   `mapstructure:"speaker"`
}

type TTSConfig struct {
	Backend       string `mapstructure:"backend"`
	BaseURL       string `mapstructure:"base_url"`
	Voice         string `mapstructure:"voice"`
	CLIPath       string `mapstructure:"cli_path"`
	CLIConfigPath string `mapstructure:"cli_config_path"`
	Concurrency   int    `mapstructure:"concurrency"`
	Quiet         bool   `mapstructure:"quiet"`
	Timeout       int    `mapstructure:"timeout"`
}

type NarrationConfig struct {
	ShortTextThreshold int `mapstructure:"short_text_threshold"`
	MaxChunkUnits      int `mapstructure:"max_chunk_units"`
	MaxInFlight        int `mapstructure:"max_in_flight"`
	ChunkGapMS         int `mapstructure:"chunk_gap_ms"`

	// ReadyCheck health-checks the backend before the first narration.
	ReadyCheck bool `mapstructure:"ready_check"`
}

type AmbientConfig struct {
	Volume       float64 `mapstructure:"volume"`
	ThunderMinMS int     `mapstructure:"thunder_min_ms"`
	ThunderMaxMS int     `mapstructure:"thunder_max_ms"`
	SampleRate   int     `mapstructure:"sample_rate"`
}

type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			VoiceManifest: "voices/manifest.json",
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			ShutdownTimeout: 30,
			MaxTextBytes:    16384,
			RequestTimeout:  60,
			Speaker:         false,
		},
		TTS: TTSConfig{
			Backend:       BackendHTTP,
			BaseURL:       "http://127.0.0.1:8000",
			Voice:         "",
			CLIPath:       "",
			CLIConfigPath: "",
			Concurrency:   1,
			Quiet:         true,
			Timeout:       60,
		},
		Narration: NarrationConfig{
			ShortTextThreshold: 1000,
			MaxChunkUnits:      800,
			MaxInFlight:        0,
			ChunkGapMS:         0,
			ReadyCheck:         true,
		},
		Ambient: AmbientConfig{
			Volume:       0.3,
			ThunderMinMS: 3000,
			ThunderMaxMS: 8000,
			SampleRate:   24000,
		},
		Events: EventsConfig{
			NATSURL:       "",
			SubjectPrefix: "lullaby",
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-voice-manifest", defaults.Paths.VoiceManifest, "Path to voices manifest.json")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent POST /tts synthesis calls")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum request text size in bytes")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request synthesis timeout in seconds")
	fs.Bool("server-speaker", defaults.Server.Speaker, "Also play the mix on the local audio device while serving")
	fs.String("backend", defaults.TTS.Backend, "Speech backend: http|cli")
	fs.String("tts-base-url", defaults.TTS.BaseURL, "Base URL of the pocket-tts HTTP server")
	fs.String("tts-voice", defaults.TTS.Voice, "Default voice name or voice file path")
	fs.String("tts-cli-path", defaults.TTS.CLIPath, "Path to pocket-tts executable")
	fs.String("tts-cli-config-path", defaults.TTS.CLIConfigPath, "Path to pocket-tts config file")
	fs.Int("tts-concurrency", defaults.TTS.Concurrency, "Max concurrent pocket-tts subprocesses")
	fs.Bool("tts-quiet", defaults.TTS.Quiet, "Pass --quiet to pocket-tts generate")
	fs.Int("tts-timeout", defaults.TTS.Timeout, "Per-chunk synthesis timeout in seconds")
	fs.Int("narration-short-text-threshold", defaults.Narration.ShortTextThreshold, "Text up to this many characters is synthesized in one request")
	fs.Int("narration-max-chunk-units", defaults.Narration.MaxChunkUnits, "Maximum characters per narration chunk")
	fs.Int("narration-max-in-flight", defaults.Narration.MaxInFlight, "Max concurrent chunk syntheses (0 = unlimited)")
	fs.Int("narration-chunk-gap-ms", defaults.Narration.ChunkGapMS, "Silence between narration chunks in milliseconds")
	fs.Bool("narration-ready-check", defaults.Narration.ReadyCheck, "Health-check the speech backend before the first narration")
	fs.Float64("volume", defaults.Ambient.Volume, "Ambient volume in [0,1]")
	fs.Int("ambient-thunder-min-ms", defaults.Ambient.ThunderMinMS, "Minimum delay between thunder bursts")
	fs.Int("ambient-thunder-max-ms", defaults.Ambient.ThunderMaxMS, "Maximum delay between thunder bursts")
	fs.Int("ambient-sample-rate", defaults.Ambient.SampleRate, "Mixer sample rate in Hz")
	fs.String("events-nats-url", defaults.Events.NATSURL, "NATS server URL for lifecycle events (empty disables)")
	fs.String("events-subject-prefix", defaults.Events.SubjectPrefix, "NATS subject prefix")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("LULLABY")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("tts-base-url", "LULLABY_TTS_BASE_URL", "POCKET_TTS_URL"); err != nil {
		return Config{}, fmt.Errorf("bind tts env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("lullaby")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.voice_manifest", c.Paths.VoiceManifest)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.speaker", c.Server.Speaker)
	v.SetDefault("tts.backend", c.TTS.Backend)
	v.SetDefault("tts.base_url", c.TTS.BaseURL)
	v.SetDefault("tts.voice", c.TTS.Voice)
	v.SetDefault("tts.cli_path", c.TTS.CLIPath)
	v.SetDefault("tts.cli_config_path", c.TTS.CLIConfigPath)
	v.SetDefault("tts.concurrency", c.TTS.Concurrency)
	v.SetDefault("tts.quiet", c.TTS.Quiet)
	v.SetDefault("tts.timeout", c.TTS.Timeout)
	v.SetDefault("narration.short_text_threshold", c.Narration.ShortTextThreshold)
	v.SetDefault("narration.max_chunk_units", c.Narration.MaxChunkUnits)
	v.SetDefault("narration.max_in_flight", c.Narration.MaxInFlight)
	v.SetDefault("narration.chunk_gap_ms", c.Narration.ChunkGapMS)
	v.SetDefault("narration.ready_check", c.Narration.ReadyCheck)
	v.SetDefault("ambient.volume", c.Ambient.Volume)
	v.SetDefault("ambient.thunder_min_ms", c.Ambient.ThunderMinMS)
	v.SetDefault("ambient.thunder_max_ms", c.Ambient.ThunderMaxMS)
	v.SetDefault("ambient.sample_rate", c.Ambient.SampleRate)
	v.SetDefault("events.nats_url", c.Events.NATSURL)
	v.SetDefault("events.subject_prefix", c.Events.SubjectPrefix)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.voice_manifest", "paths-voice-manifest")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.workers", "workers")
	v.RegisterAlias("server.shutdown_timeout", "server-shutdown-timeout")
	v.RegisterAlias("server.max_text_bytes", "server-max-text-bytes")
	v.RegisterAlias("server.request_timeout", "server-request-timeout")
	v.RegisterAlias("server.speaker", "server-speaker")
	v.RegisterAlias("tts.backend", "backend")
	v.RegisterAlias("tts.base_url", "tts-base-url")
	v.RegisterAlias("tts.voice", "tts-voice")
	v.RegisterAlias("tts.cli_path", "tts-cli-path")
	v.RegisterAlias("tts.cli_config_path", "tts-cli-config-path")
	v.RegisterAlias("tts.concurrency", "tts-concurrency")
	v.RegisterAlias("tts.quiet", "tts-quiet")
	v.RegisterAlias("tts.timeout", "tts-timeout")
	v.RegisterAlias("narration.short_text_threshold", "narration-short-text-threshold")
	v.RegisterAlias("narration.max_chunk_units", "narration-max-chunk-units")
	v.RegisterAlias("narration.max_in_flight", "narration-max-in-flight")
	v.RegisterAlias("narration.chunk_gap_ms", "narration-chunk-gap-ms")
	v.RegisterAlias("narration.ready_check", "narration-ready-check")
	v.RegisterAlias("ambient.volume", "volume")
	v.RegisterAlias("ambient.thunder_min_ms", "ambient-thunder-min-ms")
	v.RegisterAlias("ambient.thunder_max_ms", "ambient-thunder-max-ms")
	v.RegisterAlias("ambient.sample_rate", "ambient-sample-rate")
	v.RegisterAlias("events.nats_url", "events-nats-url")
	v.RegisterAlias("events.subject_prefix", "events-subject-prefix")
	v.RegisterAlias("log_level", "log-level")
}
