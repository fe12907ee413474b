package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	LogMaxBackups  int    `yaml:"log_max_backups"`
	LogMaxAgeDays  int    `yaml:"log_max_age_days"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

type HTTPConfig struct {
	Bind          string   `yaml:"bind"`
	Port          int      `yaml:"port"`
	PublicBaseURL string   `yaml:"public_base_url"`
	CORSOrigins   []string `yaml:"cors_origins"`
	MaxBodyBytes  int64    `yaml:"max_body_bytes"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Storage     StorageConfig    `yaml:"storage"`
	TTS         TTSConfig        `yaml:"tts"`
	Mixer       MixerConfig      `yaml:"mixer"`
	LLM         LLMConfig        `yaml:"llm"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
}

type StorageConfig struct {
	TempDir              string `yaml:"temp_dir"`
	OutputFormat         string `yaml:"output_format"`
	OutputRetentionHours int    `yaml:"output_retention_hours"`
}

// LanguageRule maps every language containing Contains to Canonical.
type LanguageRule struct {
	Contains  string `yaml:"contains"`
	Canonical string `yaml:"canonical"`
}

type TTSConfig struct {
	Mode           string         `yaml:"mode"` // http, exec, mock
	Endpoint       string         `yaml:"endpoint"`
	Command        string         `yaml:"command"`
	APIKey         string         `yaml:"api_key"`
	TimeoutMS      int            `yaml:"timeout_ms"`
	MaxConcurrency int            `yaml:"max_concurrency"`
	MaxChars       int            `yaml:"max_chars"`
	LanguageRules  []LanguageRule `yaml:"language_rules"`
}

type MixerConfig struct {
	Command   string `yaml:"command"`
	Quality   string `yaml:"quality"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // gemini, ollama, exec, mock
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-podcast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:         "0.0.0.0",
			Port:         8000,
			CORSOrigins:  []string{"*"},
			MaxBodyBytes: 4 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			LogMaxSizeMB:   100,
			LogMaxBackups:  10,
			LogMaxAgeDays:  30,
			OTLPInsecure:   true,
			MetricsEnabled: true,
		},
		Storage: StorageConfig{
			TempDir:      "temp_audio",
			OutputFormat: "mp3",
		},
		TTS: TTSConfig{
			Mode:           "http",
			Endpoint:       "https://api.fonada.ai/tts/generate-audio-large",
			TimeoutMS:      90000,
			MaxConcurrency: 4,
			MaxChars:       450,
			LanguageRules: []LanguageRule{
				{Contains: "English", Canonical: "English"},
			},
		},
		Mixer: MixerConfig{
			Command:   "ffmpeg -hide_banner -loglevel error",
			Quality:   "0",
			TimeoutMS: 300000,
		},
		LLM: LLMConfig{
			Mode:        "gemini",
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-2.5-flash",
			MaxTokens:   8192,
			Temperature: 0.8,
			TimeoutMS:   120000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/podcast-sessions.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PODCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PODCAST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PODCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PODCAST_HTTP_PORT")
	overrideString(&cfg.HTTP.PublicBaseURL, "PODCAST_HTTP_PUBLIC_BASE_URL")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "PODCAST_HTTP_CORS_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "PODCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "PODCAST_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.LogFile, "PODCAST_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PODCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PODCAST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.MetricsEnabled, "PODCAST_TELEMETRY_METRICS_ENABLED")
	overrideString(&cfg.Storage.TempDir, "PODCAST_STORAGE_TEMP_DIR")
	overrideString(&cfg.Storage.OutputFormat, "PODCAST_STORAGE_OUTPUT_FORMAT")
	overrideInt(&cfg.Storage.OutputRetentionHours, "PODCAST_STORAGE_OUTPUT_RETENTION_HOURS")
	overrideString(&cfg.TTS.Mode, "PODCAST_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "PODCAST_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Command, "PODCAST_TTS_COMMAND")
	overrideString(&cfg.TTS.APIKey, "PODCAST_TTS_API_KEY")
	overrideInt(&cfg.TTS.TimeoutMS, "PODCAST_TTS_TIMEOUT_MS")
	overrideInt(&cfg.TTS.MaxConcurrency, "PODCAST_TTS_MAX_CONCURRENCY")
	overrideInt(&cfg.TTS.MaxChars, "PODCAST_TTS_MAX_CHARS")
	overrideString(&cfg.Mixer.Command, "PODCAST_MIXER_COMMAND")
	overrideString(&cfg.Mixer.Quality, "PODCAST_MIXER_QUALITY")
	overrideInt(&cfg.Mixer.TimeoutMS, "PODCAST_MIXER_TIMEOUT_MS")
	overrideString(&cfg.LLM.Mode, "PODCAST_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "PODCAST_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "PODCAST_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "PODCAST_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "PODCAST_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "PODCAST_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "PODCAST_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "PODCAST_LLM_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "PODCAST_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "PODCAST_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "PODCAST_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "PODCAST_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "PODCAST_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "PODCAST_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PODCAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PODCAST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "PODCAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PODCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PODCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PODCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PODCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PODCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PODCAST_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxBodyBytes < 0 {
		return errors.New("http.max_body_bytes must be >= 0")
	}
	switch strings.ToLower(cfg.Telemetry.LogFormat) {
	case "json", "text", "":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Storage.TempDir == "" {
		return errors.New("storage.temp_dir must not be empty")
	}
	if cfg.Storage.OutputFormat == "" || strings.IndexFunc(cfg.Storage.OutputFormat, notExtRune) >= 0 {
		return errors.New("storage.output_format must be a bare file extension")
	}
	if cfg.Storage.OutputRetentionHours < 0 {
		return errors.New("storage.output_retention_hours must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "http", "exec", "mock":
	default:
		return errors.New("tts.mode must be one of http|exec|mock")
	}
	if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=http")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.TimeoutMS < 0 {
		return errors.New("tts.timeout_ms must be >= 0")
	}
	if cfg.TTS.MaxConcurrency < 0 {
		return errors.New("tts.max_concurrency must be >= 0")
	}
	if cfg.TTS.MaxChars <= 0 {
		return errors.New("tts.max_chars must be positive")
	}
	for i, rule := range cfg.TTS.LanguageRules {
		if rule.Contains == "" || rule.Canonical == "" {
			return fmt.Errorf("tts.language_rules[%d] needs both contains and canonical", i)
		}
	}
	if strings.TrimSpace(cfg.Mixer.Command) == "" {
		return errors.New("mixer.command must not be empty")
	}
	if cfg.Mixer.TimeoutMS < 0 {
		return errors.New("mixer.timeout_ms must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "gemini", "ollama", "exec", "mock":
	default:
		return errors.New("llm.mode must be one of gemini|ollama|exec|mock")
	}
	if (cfg.LLM.Mode == "gemini" || cfg.LLM.Mode == "ollama") && cfg.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}

func notExtRune(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}
