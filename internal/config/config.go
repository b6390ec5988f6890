package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Discord
	DiscordToken string
	TargetUserID string // optional: auto-join this user's voice channel

	// Hume EVI
	HumeConfigID string
	HumeAPIKey   string
	HumeBaseURL  string

	// Audio capture / chunking
	FlushThresholdMS int // flush when accumulated audio reaches this duration
	FlushTimeoutMS   int // or when this much wall time passed since last flush
	SilenceWindowMS  int // speaker stream ends after this much silence

	// Session transport
	MaxReconnectAttempts int
	ReconnectBaseDelayMS int
	KeepAliveInterval    time.Duration

	// Event routing
	AssistantDebounceMS int

	// Transcript
	MaxContextChars int

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}

	cfg := &Config{
		// Discord
		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		TargetUserID: os.Getenv("TARGET_USER_ID"),

		// Hume EVI
		HumeConfigID: os.Getenv("HUME_CONFIG_ID"),
		HumeAPIKey:   os.Getenv("HUME_API_KEY"),
		HumeBaseURL:  getEnvOrDefault("HUME_BASE_URL", "wss://api.hume.ai/v0/evi/chat"),

		// Audio
		FlushThresholdMS: getIntEnvOrDefault("FLUSH_THRESHOLD_MS", 500),
		FlushTimeoutMS:   getIntEnvOrDefault("FLUSH_TIMEOUT_MS", 500),
		SilenceWindowMS:  getIntEnvOrDefault("SILENCE_WINDOW_MS", 1000),

		// Transport
		MaxReconnectAttempts: getIntEnvOrDefault("MAX_RECONNECT_ATTEMPTS", 3),
		ReconnectBaseDelayMS: getIntEnvOrDefault("RECONNECT_BASE_DELAY_MS", 5000),
		KeepAliveInterval:    time.Duration(getIntEnvOrDefault("KEEPALIVE_INTERVAL_S", 30)) * time.Second,

		// Routing
		AssistantDebounceMS: getIntEnvOrDefault("ASSISTANT_DEBOUNCE_MS", 1000),

		// Transcript
		MaxContextChars: getIntEnvOrDefault("MAX_CONTEXT_CHARS", 1280),

		// Logging
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}

	if c.HumeConfigID == "" {
		return fmt.Errorf("HUME_CONFIG_ID is required")
	}

	if c.HumeAPIKey == "" {
		return fmt.Errorf("HUME_API_KEY is required")
	}

	if c.FlushThresholdMS <= 0 {
		return fmt.Errorf("FLUSH_THRESHOLD_MS must be positive")
	}

	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
