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
	LogLevel string `yaml:"log_level"`
	// TraceExporter selects where spans go: none, stdout (stderr, compact) or otlp.
	TraceExporter string `yaml:"trace_exporter"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	STT         STTConfig       `yaml:"stt"`
	Transcode   TranscodeConfig `yaml:"transcode"`
	Workers     WorkersConfig   `yaml:"workers"`
	Chat        ChatConfig      `yaml:"chat"`
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

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode             string   `yaml:"mode"` // mock, ollama, exec
	Endpoint         string   `yaml:"endpoint"`
	Command          string   `yaml:"command"`
	Models           []string `yaml:"models"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms"`
}

type TTSConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Mode         string            `yaml:"mode"` // mock, exec
	Command      string            `yaml:"command"`
	AudioDir     string            `yaml:"audio_dir"`
	URLPrefix    string            `yaml:"url_prefix"`
	DefaultVoice string            `yaml:"default_voice"`
	Voices       map[string]string `yaml:"voices"`
	MinChars     int               `yaml:"min_chars"`
	MaxChars     int               `yaml:"max_chars"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type TranscodeConfig struct {
	FFmpeg     string `yaml:"ffmpeg"`
	FFprobe    string `yaml:"ffprobe"`
	TempDir    string `yaml:"temp_dir"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type WorkersConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

type ChatConfig struct {
	SystemMessage      string `yaml:"system_message"`
	LegacyHistoryOrder bool   `yaml:"legacy_history_order"`
}

// DefaultVoices is the language to voice table used when none is configured.
func DefaultVoices() map[string]string {
	return map[string]string{
		"en": "en-US-AriaNeural",
		"fr": "fr-FR-DeniseNeural",
		"de": "de-DE-KatjaNeural",
		"es": "es-ES-ElviraNeural",
		"it": "it-IT-ElsaNeural",
		"pt": "pt-PT-FernandaNeural",
		"ru": "ru-RU-DariyaNeural",
		"zh": "zh-CN-XiaoxiaoNeural",
		"ja": "ja-JP-NanamiNeural",
		"ko": "ko-KR-SunHiNeural",
		"tr": "tr-TR-EmelNeural",
	}
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-chat",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8010,
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			TraceExporter: "none",
			OTLPEndpoint:  "",
			OTLPInsecure:  true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path:          "./data/loqa-chat.db",
			RetentionMode: "persistent",
			RetentionDays: 0,
		},
		LLM: LLMConfig{
			Mode:             "ollama",
			Endpoint:         "http://localhost:11434",
			RequestTimeoutMS: 120000,
		},
		TTS: TTSConfig{
			Enabled:      true,
			Mode:         "exec",
			Command:      "edge-tts",
			AudioDir:     "static/audio",
			URLPrefix:    "/static/audio",
			DefaultVoice: "en-US-AriaNeural",
			Voices:       DefaultVoices(),
			MinChars:     3,
			MaxChars:     10000,
		},
		STT: STTConfig{
			Mode:     "mock",
			Language: "tr",
		},
		Transcode: TranscodeConfig{
			FFmpeg:     "ffmpeg",
			FFprobe:    "ffprobe",
			SampleRate: 16000,
			Channels:   1,
		},
		Workers: WorkersConfig{
			MaxConcurrency: 4,
		},
		Chat: ChatConfig{
			SystemMessage:      "You are a helpful assistant. Keep answers short and conversational.",
			LegacyHistoryOrder: true,
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
	if len(cfg.TTS.Voices) == 0 {
		cfg.TTS.Voices = DefaultVoices()
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "LOQA_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "LOQA_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "LOQA_HISTORY_RETENTION_DAYS")
	overrideBool(&cfg.History.VacuumOnStart, "LOQA_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideStringSlice(&cfg.LLM.Models, "LOQA_LLM_MODELS")
	overrideInt(&cfg.LLM.RequestTimeoutMS, "LOQA_LLM_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "LOQA_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.AudioDir, "LOQA_TTS_AUDIO_DIR")
	overrideString(&cfg.TTS.URLPrefix, "LOQA_TTS_URL_PREFIX")
	overrideString(&cfg.TTS.DefaultVoice, "LOQA_TTS_DEFAULT_VOICE")
	overrideInt(&cfg.TTS.MinChars, "LOQA_TTS_MIN_CHARS")
	overrideInt(&cfg.TTS.MaxChars, "LOQA_TTS_MAX_CHARS")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.Transcode.FFmpeg, "LOQA_TRANSCODE_FFMPEG")
	overrideString(&cfg.Transcode.FFprobe, "LOQA_TRANSCODE_FFPROBE")
	overrideString(&cfg.Transcode.TempDir, "LOQA_TRANSCODE_TEMP_DIR")
	overrideInt(&cfg.Transcode.SampleRate, "LOQA_TRANSCODE_SAMPLE_RATE")
	overrideInt(&cfg.Transcode.Channels, "LOQA_TRANSCODE_CHANNELS")
	overrideInt(&cfg.Workers.MaxConcurrency, "LOQA_WORKERS_MAX_CONCURRENCY")
	overrideString(&cfg.Chat.SystemMessage, "LOQA_CHAT_SYSTEM_MESSAGE")
	overrideBool(&cfg.Chat.LegacyHistoryOrder, "LOQA_CHAT_LEGACY_HISTORY_ORDER")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
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
	switch cfg.History.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("history.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.AudioDir == "" {
			return errors.New("tts.audio_dir must not be empty")
		}
		if cfg.TTS.MinChars < 0 || cfg.TTS.MaxChars < cfg.TTS.MinChars {
			return errors.New("tts.max_chars must be >= tts.min_chars >= 0")
		}
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.Transcode.FFmpeg == "" || cfg.Transcode.FFprobe == "" {
		return errors.New("transcode.ffmpeg and transcode.ffprobe must not be empty")
	}
	if cfg.Transcode.SampleRate <= 0 {
		return errors.New("transcode.sample_rate must be positive")
	}
	if cfg.Transcode.Channels <= 0 {
		return errors.New("transcode.channels must be positive")
	}
	if cfg.Workers.MaxConcurrency <= 0 {
		return errors.New("workers.max_concurrency must be >= 1")
	}
	return nil
}
