// Package config loads the static application configuration: an optional
// voxengine.toml, a .env file and environment secrets. User-tunable voice
// settings are not part of it; the session persists those separately.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "voxengine.toml"

// Environment variables carrying secrets and deployment overrides.
const (
	EnvAzureSpeechKey    = "AZURE_SPEECH_KEY"
	EnvAzureSpeechRegion = "AZURE_SPEECH_REGION"
	EnvBackendKey        = "VOX_BACKEND_KEY"
	EnvBackendEndpoint   = "VOX_BACKEND_ENDPOINT"
	EnvRedisAddr         = "VOX_REDIS_ADDR"
	EnvRedisPassword     = "VOX_REDIS_PASSWORD"
	EnvRedisDB           = "VOX_REDIS_DB"
	EnvVoice             = "VOX_VOICE"
)

// Config is the complete application configuration.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Input    InputConfig    `toml:"input"`
	Output   OutputConfig   `toml:"output"`
	Store    StoreConfig    `toml:"store"`
	Commands CommandsConfig `toml:"commands"`
	Server   ServerConfig   `toml:"server"`
	Backend  BackendConfig  `toml:"backend"`
	Policy   PolicyConfig   `toml:"policy"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level      string `toml:"level" validate:"oneof=off normal verbose"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `toml:"max_age_days" validate:"gte=0"`
}

// InputConfig selects the recognition engine.
type InputConfig struct {
	Engine         string   `toml:"engine" validate:"oneof=text whisper"`
	WhisperBin     string   `toml:"whisper_bin" validate:"required_if=Engine whisper"`
	WhisperModel   string   `toml:"whisper_model" validate:"required_if=Engine whisper"`
	ChunkDuration  Duration `toml:"chunk_duration"`
	EndpointChunks int      `toml:"endpoint_chunks" validate:"gte=1"`
	TempDir        string   `toml:"temp_dir"`
	StartGrace     Duration `toml:"start_grace"`
}

// OutputConfig selects the speech engine.
type OutputConfig struct {
	Engine    string   `toml:"engine" validate:"oneof=console azure"`
	Voice     string   `toml:"voice"`
	CacheDir  string   `toml:"cache_dir"`
	DiskCache bool     `toml:"disk_cache"`
	ChunkSize int      `toml:"chunk_size" validate:"gte=0"`
	WordPace  Duration `toml:"word_pace"`

	AzureKey    string `toml:"-" validate:"required_if=Engine azure"`
	AzureRegion string `toml:"-" validate:"required_if=Engine azure"`
}

// StoreConfig selects where settings and history are persisted.
type StoreConfig struct {
	Kind string `toml:"kind" validate:"oneof=memory file sqlite redis"`
	// Path is the database file for sqlite and the directory for file.
	Path    string `toml:"path" validate:"required_if=Kind file,required_if=Kind sqlite"`
	History bool   `toml:"history"`

	RedisAddr     string `toml:"redis_addr" validate:"required_if=Kind redis"`
	RedisDB       int    `toml:"redis_db" validate:"gte=0"`
	RedisPassword string `toml:"-"`
}

// CommandsConfig points at an optional YAML command table file.
type CommandsConfig struct {
	File  string `toml:"file"`
	Watch bool   `toml:"watch"`
}

// ServerConfig controls the diagnostics HTTP server.
type ServerConfig struct {
	Enabled bool    `toml:"enabled"`
	Addr    string  `toml:"addr" validate:"required_if=Enabled true"`
	Rate    float64 `toml:"rate" validate:"gt=0"`
	Burst   int     `toml:"burst" validate:"gte=1"`
}

// BackendConfig configures the completion client used by handlers.
type BackendConfig struct {
	Endpoint string   `toml:"endpoint" validate:"omitempty,url"`
	Model    string   `toml:"model"`
	Timeout  Duration `toml:"timeout"`

	Key string `toml:"-"`
}

// Enabled reports whether the backend has enough configuration to be used.
func (b BackendConfig) Enabled() bool { return b.Endpoint != "" && b.Key != "" }

// PolicyConfig controls destructive-intent confirmation.
type PolicyConfig struct {
	Confirm string   `toml:"confirm" validate:"oneof=log require"`
	Window  Duration `toml:"window"`
}

// Duration wraps time.Duration for TOML parsing.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string such as "1500ms".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is present: typed
// input, console output, in-memory storage, server off.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "normal",
			File:       ".voxengine-logs/voxengine.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Input: InputConfig{
			Engine:         "text",
			WhisperBin:     "whisper-cli",
			WhisperModel:   "bin/ggml-small.bin",
			ChunkDuration:  Duration{time.Second},
			EndpointChunks: 2,
			TempDir:        ".voxengine-stt",
			StartGrace:     Duration{3 * time.Second},
		},
		Output: OutputConfig{
			Engine:    "console",
			CacheDir:  ".voxengine-cache",
			DiskCache: true,
			ChunkSize: 200,
			WordPace:  Duration{60 * time.Millisecond},
		},
		Store: StoreConfig{
			Kind: "memory",
			Path: ".voxengine-data/voxengine.db",
		},
		Server: ServerConfig{
			Addr:  "127.0.0.1:8765",
			Rate:  5,
			Burst: 10,
		},
		Backend: BackendConfig{
			Model:   "gpt-4o-mini",
			Timeout: Duration{30 * time.Second},
		},
		Policy: PolicyConfig{
			Confirm: "log",
			Window:  Duration{30 * time.Second},
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path if it
// exists, then environment overrides. An explicitly named file that does not
// exist is an error; the default path may be absent.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := toml.DecodeFile(os.ExpandEnv(path), &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the environment. Missing files are
// ignored; variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// VoicePreference reads the user's voice-modality preference from VOX_VOICE.
// ok is false when the variable is unset.
func VoicePreference(context.Context) (enabled, ok bool, err error) {
	v := os.Getenv(EnvVoice)
	if v == "" {
		return false, false, nil
	}
	switch v {
	case "on":
		return true, true, nil
	case "off":
		return false, true, nil
	}
	enabled, err = strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", EnvVoice, err)
	}
	return enabled, true, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvAzureSpeechKey); v != "" {
		c.Output.AzureKey = v
	}
	if v := os.Getenv(EnvAzureSpeechRegion); v != "" {
		c.Output.AzureRegion = v
	}
	if v := os.Getenv(EnvBackendKey); v != "" {
		c.Backend.Key = v
	}
	if v := os.Getenv(EnvBackendEndpoint); v != "" {
		c.Backend.Endpoint = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Store.RedisPassword = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRedisDB, err)
		}
		c.Store.RedisDB = n
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
