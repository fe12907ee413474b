package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.MaxChars != 450 {
		t.Fatalf("expected default max chars 450, got %d", cfg.TTS.MaxChars)
	}
	if len(cfg.TTS.LanguageRules) != 1 || cfg.TTS.LanguageRules[0].Canonical != "English" {
		t.Fatalf("expected default English language rule, got %v", cfg.TTS.LanguageRules)
	}
	if cfg.Storage.OutputFormat != "mp3" {
		t.Fatalf("expected mp3 output, got %q", cfg.Storage.OutputFormat)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podcast.yaml")
	data := `http:
  port: 9000
  public_base_url: https://pods.example.com
tts:
  mode: mock
  max_concurrency: 0
  language_rules:
    - contains: Hindi
      canonical: Hindi
mixer:
  command: /usr/local/bin/ffmpeg -nostdin
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 || cfg.HTTP.PublicBaseURL != "https://pods.example.com" {
		t.Fatalf("expected http overrides from file, got %+v", cfg.HTTP)
	}
	if cfg.TTS.Mode != "mock" || cfg.TTS.MaxConcurrency != 0 {
		t.Fatalf("expected tts overrides from file, got %+v", cfg.TTS)
	}
	if len(cfg.TTS.LanguageRules) != 1 || cfg.TTS.LanguageRules[0].Contains != "Hindi" {
		t.Fatalf("expected file language rules to replace defaults, got %v", cfg.TTS.LanguageRules)
	}
	if cfg.TTS.MaxChars != 450 {
		t.Fatalf("expected untouched default max chars, got %d", cfg.TTS.MaxChars)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PODCAST_HTTP_PORT", "9100")
	t.Setenv("PODCAST_HTTP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PODCAST_STORAGE_TEMP_DIR", "/tmp/podcast")
	t.Setenv("PODCAST_TTS_API_KEY", "secret")
	t.Setenv("PODCAST_TTS_MAX_CONCURRENCY", "8")
	t.Setenv("PODCAST_TTS_TIMEOUT_MS", "5000")
	t.Setenv("PODCAST_LLM_MODE", "mock")
	t.Setenv("PODCAST_LLM_TEMPERATURE", "0.2")
	t.Setenv("PODCAST_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("PODCAST_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("PODCAST_BUS_ENABLED", "true")
	t.Setenv("PODCAST_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 9100 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("expected cors origins override, got %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Storage.TempDir != "/tmp/podcast" {
		t.Fatalf("expected temp dir override")
	}
	if cfg.TTS.APIKey != "secret" {
		t.Fatalf("expected tts api key override")
	}
	if cfg.TTS.MaxConcurrency != 8 || cfg.TTS.TimeoutMS != 5000 {
		t.Fatalf("expected tts limits override, got %+v", cfg.TTS)
	}
	if cfg.LLM.Mode != "mock" || cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected llm override, got %+v", cfg.LLM)
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store override, got %+v", cfg.EventStore)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus override, got %+v", cfg.Bus)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"tts mode":        func(c *Config) { c.TTS.Mode = "grpc" },
		"exec command":    func(c *Config) { c.TTS.Mode = "exec"; c.TTS.Command = "" },
		"max chars":       func(c *Config) { c.TTS.MaxChars = 0 },
		"negative cap":    func(c *Config) { c.TTS.MaxConcurrency = -1 },
		"language rule":   func(c *Config) { c.TTS.LanguageRules = []LanguageRule{{Contains: "English"}} },
		"output format":   func(c *Config) { c.Storage.OutputFormat = "../mp3" },
		"format symbols":  func(c *Config) { c.Storage.OutputFormat = "mp-3" },
		"mixer command":   func(c *Config) { c.Mixer.Command = "  " },
		"llm mode":        func(c *Config) { c.LLM.Mode = "openai" },
		"retention mode":  func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"bus servers":     func(c *Config) { c.Bus.Enabled = true; c.Bus.Embedded = false; c.Bus.Servers = nil },
		"log format":      func(c *Config) { c.Telemetry.LogFormat = "xml" },
		"empty temp dir":  func(c *Config) { c.Storage.TempDir = "" },
		"port out of rng": func(c *Config) { c.HTTP.Port = 70000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsUppercaseFormat(t *testing.T) {
	cfg := Default()
	cfg.Storage.OutputFormat = "MP3"
	if err := validate(cfg); err != nil {
		t.Fatalf("expected uppercase format accepted, got %v", err)
	}
}
