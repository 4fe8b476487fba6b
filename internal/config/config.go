package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar session service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	SessionIdleTimeout  time.Duration
	SweepInterval       time.Duration
	EscalationThreshold int

	SpeechProvider  string
	DefaultLanguage string

	GoogleTTSAPIKey  string
	GoogleTTSBaseURL string

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	HeyGenAPIKey        string
	HeyGenBaseURL       string
	HeyGenWarmupTimeout time.Duration
	HealthCheckInterval time.Duration

	RedisAddr     string
	AudioCacheTTL time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "medavatar"),
		AllowAnyOrigin:   false,
		ShutdownTimeout:  15 * time.Second,

		SessionIdleTimeout:  10 * time.Minute,
		SweepInterval:       time.Minute,
		EscalationThreshold: 2,

		SpeechProvider:  envOrDefault("SPEECH_PROVIDER", "auto"),
		DefaultLanguage: envOrDefault("DEFAULT_LANGUAGE", "en"),

		GoogleTTSAPIKey:  trimmedEnv("GOOGLE_TTS_API_KEY"),
		GoogleTTSBaseURL: envOrDefault("GOOGLE_TTS_BASE_URL", "https://texttospeech.googleapis.com"),

		ElevenLabsAPIKey:  trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsVoiceID: envOrDefault("ELEVENLABS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsModelID: envOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),

		HeyGenAPIKey:        trimmedEnv("HEYGEN_API_KEY"),
		HeyGenBaseURL:       envOrDefault("HEYGEN_BASE_URL", "https://api.heygen.com"),
		HeyGenWarmupTimeout: 10 * time.Second,
		HealthCheckInterval: 10 * time.Second,

		RedisAddr:     trimmedEnv("REDIS_ADDR"),
		AudioCacheTTL: 24 * time.Hour,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = durationFromEnv("SESSION_SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.EscalationThreshold, err = intFromEnv("ESCALATION_THRESHOLD", cfg.EscalationThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.HeyGenWarmupTimeout, err = durationFromEnv("HEYGEN_WARMUP_TIMEOUT", cfg.HeyGenWarmupTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HealthCheckInterval, err = durationFromEnv("HEYGEN_HEALTH_INTERVAL", cfg.HealthCheckInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioCacheTTL, err = durationFromEnv("AUDIO_CACHE_TTL", cfg.AudioCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 30*time.Second {
		return Config{}, fmt.Errorf("SESSION_IDLE_TIMEOUT must be at least 30s")
	}
	if cfg.SweepInterval < time.Second {
		return Config{}, fmt.Errorf("SESSION_SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.EscalationThreshold <= 0 {
		return Config{}, fmt.Errorf("ESCALATION_THRESHOLD must be positive")
	}
	if cfg.HealthCheckInterval < time.Second {
		return Config{}, fmt.Errorf("HEYGEN_HEALTH_INTERVAL must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
