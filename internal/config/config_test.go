package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadMissingDefaultPath(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Input.Engine != "text" || cfg.Store.Kind != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "voxengine.toml", `
[log]
level = "verbose"

[input]
engine = "whisper"
whisper_model = "models/base.bin"
chunk_duration = "1500ms"

[store]
kind = "sqlite"
path = "data/vox.db"
history = true

[server]
enabled = true
addr = ":9000"

[policy]
confirm = "require"
window = "10s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "verbose" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}
	if cfg.Input.Engine != "whisper" || cfg.Input.WhisperModel != "models/base.bin" {
		t.Errorf("input = %+v", cfg.Input)
	}
	if cfg.Input.ChunkDuration.Duration != 1500*time.Millisecond {
		t.Errorf("chunk duration = %s", cfg.Input.ChunkDuration)
	}
	// Untouched keys keep their defaults.
	if cfg.Input.WhisperBin != "whisper-cli" || cfg.Input.EndpointChunks != 2 {
		t.Errorf("defaults lost: %+v", cfg.Input)
	}
	if !cfg.Store.History || cfg.Store.Path != "data/vox.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if !cfg.Server.Enabled || cfg.Server.Addr != ":9000" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Policy.Confirm != "require" || cfg.Policy.Window.Duration != 10*time.Second {
		t.Errorf("policy = %+v", cfg.Policy)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad engine", "[input]\nengine = \"vosk\"\n", "Engine"},
		{"bad store", "[store]\nkind = \"etcd\"\n", "Kind"},
		{"bad policy", "[policy]\nconfirm = \"maybe\"\n", "Confirm"},
		{"azure without key", "[output]\nengine = \"azure\"\n", "AzureKey"},
		{"redis without addr", "[store]\nkind = \"redis\"\n", "RedisAddr"},
		{"bad log level", "[log]\nlevel = \"loud\"\n", "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvAzureSpeechKey, "")
			t.Setenv(EnvRedisAddr, "")
			path := writeFile(t, t.TempDir(), "c.toml", tt.body)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvAzureSpeechKey, "k")
	t.Setenv(EnvAzureSpeechRegion, "westeurope")
	t.Setenv(EnvBackendKey, "sk-test")
	t.Setenv(EnvBackendEndpoint, "https://example.test/v1/chat/completions")
	t.Setenv(EnvRedisAddr, "redis:6379")
	t.Setenv(EnvRedisDB, "2")

	path := writeFile(t, t.TempDir(), "c.toml", "[output]\nengine = \"azure\"\n[store]\nkind = \"redis\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Output.AzureKey != "k" || cfg.Output.AzureRegion != "westeurope" {
		t.Errorf("azure = %+v", cfg.Output)
	}
	if !cfg.Backend.Enabled() {
		t.Error("backend should be enabled")
	}
	if cfg.Store.RedisAddr != "redis:6379" || cfg.Store.RedisDB != 2 {
		t.Errorf("redis = %+v", cfg.Store)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", EnvBackendKey+"=from-dotenv\n")
	os.Unsetenv(EnvBackendKey)
	t.Cleanup(func() { os.Unsetenv(EnvBackendKey) })

	LoadDotEnv(env)
	if got := os.Getenv(EnvBackendKey); got != "from-dotenv" {
		t.Fatalf("%s = %q", EnvBackendKey, got)
	}
}

func TestVoicePreference(t *testing.T) {
	tests := []struct {
		value       string
		enabled, ok bool
		wantErr     bool
	}{
		{"", false, false, false},
		{"on", true, true, false},
		{"off", false, true, false},
		{"false", false, true, false},
		{"1", true, true, false},
		{"maybe", false, false, true},
	}
	for _, tt := range tests {
		t.Setenv(EnvVoice, tt.value)
		enabled, ok, err := VoicePreference(context.Background())
		if (err != nil) != tt.wantErr || enabled != tt.enabled || ok != tt.ok {
			t.Errorf("%s=%q: got (%v, %v, %v)", EnvVoice, tt.value, enabled, ok, err)
		}
	}
}
