package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"jomiage/internal/domain"
)

const (
	SourceHTTP      = "http"
	SourceWebsocket = "websocket"
	SourceMQTT      = "mqtt"
	SourceCommand   = "command"

	SpeechCommand = "command"
	SpeechMQTT    = "mqtt"
	SpeechNone    = "none"
)

// Config stores runtime configuration.
type Config struct {
	Gate        GateConfig
	Rules       RulesConfig
	Capture     domain.CaptureConfig
	Speech      SpeechConfig
	Source      SourceConfig
	MQTT        MQTTConfig
	Diagnostics DiagnosticsConfig
	HTTP        HTTPConfig
	Session     SessionConfig
	LogLevel    slog.Level
}

type GateConfig struct {
	ConfidenceThreshold float64
	MinLength           int
	SimilarityPercent   float64
	IgnoreList          []string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type SpeechConfig struct {
	Engine        string
	Command       string
	VoiceName     string
	VoiceLanguage string
	VoiceIndex    int
	Rate          int
}

type SourceConfig struct {
	Kind           string
	WSURL          string
	WSToken        string
	CaptureCommand string
}

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type DiagnosticsConfig struct {
	DSN           string
	Transliterate bool
}

type HTTPConfig struct {
	Addr         string
	MaxBodyBytes int64
}

type SessionConfig struct {
	StopTimeout time.Duration
}

// Load resolves configuration from environment variables and sensible
// defaults. A .env file (JOMIAGE_ENV_FILE, default ./.env) is read first
// without overriding variables already set.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("JOMIAGE_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	defaultRules := filepath.Join(home, ".config", "jomiage", "reading.rules")
	legacyRules := filepath.Join(home, ".jomiage.rules")
	rulesPath := strings.TrimSpace(os.Getenv("JOMIAGE_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(defaultRules, legacyRules)
	}

	cfg := Config{
		Gate: GateConfig{
			ConfidenceThreshold: envOrDefaultFloat("JOMIAGE_CONFIDENCE_THRESHOLD", 0.5),
			MinLength:           envOrDefaultInt("JOMIAGE_MIN_LENGTH", 2),
			SimilarityPercent:   envOrDefaultFloat("JOMIAGE_SIMILARITY_PERCENT", 60),
			IgnoreList:          envOrDefaultList("JOMIAGE_IGNORE", []string{"｛"}),
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("JOMIAGE_RULE_ITERATION_LIMIT", 30),
		},
		Capture: domain.CaptureConfig{
			Region:       envOrDefaultRect("JOMIAGE_CAPTURE_RECT", domain.Rect{X: 0, Y: 0, Width: 1000, Height: 200}),
			FPS:          envOrDefaultInt("JOMIAGE_CAPTURE_FPS", 3),
			QueueDepth:   envOrDefaultInt("JOMIAGE_CAPTURE_QUEUE_DEPTH", 6),
			Languages:    envOrDefaultList("JOMIAGE_RECOGNITION_LANGUAGES", []string{"ja-JP"}),
			InvertColors: envOrDefaultBool("JOMIAGE_INVERT_COLORS", true),
		},
		Speech: SpeechConfig{
			Engine:        strings.ToLower(envOrDefault("JOMIAGE_SPEECH_ENGINE", SpeechCommand)),
			Command:       envOrDefault("JOMIAGE_SPEECH_COMMAND", "say"),
			VoiceName:     strings.TrimSpace(os.Getenv("JOMIAGE_VOICE_NAME")),
			VoiceLanguage: envOrDefault("JOMIAGE_VOICE_LANGUAGE", "ja-JP"),
			VoiceIndex:    envOrDefaultInt("JOMIAGE_VOICE_INDEX", 7),
			Rate:          envOrDefaultInt("JOMIAGE_SPEECH_RATE", 0),
		},
		Source: SourceConfig{
			Kind:           strings.ToLower(envOrDefault("JOMIAGE_SOURCE", SourceHTTP)),
			WSURL:          strings.TrimSpace(os.Getenv("JOMIAGE_WS_URL")),
			WSToken:        strings.TrimSpace(os.Getenv("JOMIAGE_WS_TOKEN")),
			CaptureCommand: strings.TrimSpace(os.Getenv("JOMIAGE_CAPTURE_COMMAND")),
		},
		MQTT: MQTTConfig{
			BrokerURL:   strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")),
			ClientID:    envOrDefault("JOMIAGE_MQTT_CLIENT_ID", "jomiage"),
			Username:    strings.TrimSpace(os.Getenv("MQTT_USERNAME")),
			Password:    os.Getenv("MQTT_PASSWORD"),
			TopicPrefix: strings.Trim(envOrDefault("MQTT_TOPIC_PREFIX", "jomiage"), "/"),
		},
		Diagnostics: DiagnosticsConfig{
			DSN:           strings.TrimSpace(os.Getenv("JOMIAGE_DIAGNOSTICS_DSN")),
			Transliterate: envOrDefaultBool("JOMIAGE_TRANSLITERATE", true),
		},
		HTTP: HTTPConfig{
			Addr:         envOrDefault("JOMIAGE_HTTP_ADDR", ":9020"),
			MaxBodyBytes: int64(envOrDefaultInt("JOMIAGE_MAX_BODY_BYTES", 65536)),
		},
		Session: SessionConfig{
			StopTimeout: time.Duration(envOrDefaultInt("JOMIAGE_STOP_TIMEOUT_MS", 4000)) * time.Millisecond,
		},
		LogLevel: envOrDefaultLevel("JOMIAGE_LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.Gate.ConfidenceThreshold < 0 || cfg.Gate.ConfidenceThreshold > 1 {
		cfg.Gate.ConfidenceThreshold = 0.5
	}
	if cfg.Gate.MinLength < 0 {
		cfg.Gate.MinLength = 2
	}
	if cfg.Gate.SimilarityPercent <= 0 || cfg.Gate.SimilarityPercent > 100 {
		cfg.Gate.SimilarityPercent = 60
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Capture.FPS <= 0 {
		cfg.Capture.FPS = 3
	}
	if cfg.Capture.QueueDepth <= 0 {
		cfg.Capture.QueueDepth = 6
	}
	if cfg.Speech.VoiceIndex < 0 {
		cfg.Speech.VoiceIndex = 7
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 65536
	}
	if cfg.Session.StopTimeout <= 0 {
		cfg.Session.StopTimeout = 4 * time.Second
	}

	switch cfg.Source.Kind {
	case SourceHTTP, SourceWebsocket, SourceMQTT, SourceCommand:
	default:
		return Config{}, fmt.Errorf("unsupported JOMIAGE_SOURCE %q", cfg.Source.Kind)
	}
	switch cfg.Speech.Engine {
	case SpeechCommand, SpeechMQTT, SpeechNone:
	default:
		return Config{}, fmt.Errorf("unsupported JOMIAGE_SPEECH_ENGINE %q", cfg.Speech.Engine)
	}

	return cfg, nil
}

// UsesMQTT reports whether any component needs a broker connection.
func (c Config) UsesMQTT() bool {
	return c.Source.Kind == SourceMQTT || c.Speech.Engine == SpeechMQTT
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %q: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultList splits a comma separated value, dropping blank items.
func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}

// envOrDefaultRect parses "x,y,width,height".
func envOrDefaultRect(key string, fallback domain.Rect) domain.Rect {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return fallback
	}
	nums := make([]int, 4)
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		nums[i] = n
	}
	if nums[2] <= 0 || nums[3] <= 0 {
		return fallback
	}
	return domain.Rect{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}
}

func envOrDefaultLevel(key string, fallback slog.Level) slog.Level {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return fallback
	}
	return level
}
