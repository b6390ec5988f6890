package config

import (
	"testing"
)

func setRequired(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("HUME_CONFIG_ID", "cfg-123")
	t.Setenv("HUME_API_KEY", "key-456")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.FlushThresholdMS != 500 {
		t.Errorf("FlushThresholdMS = %d, want 500", cfg.FlushThresholdMS)
	}
	if cfg.MaxReconnectAttempts != 3 {
		t.Errorf("MaxReconnectAttempts = %d, want 3", cfg.MaxReconnectAttempts)
	}
	if cfg.MaxContextChars != 1280 {
		t.Errorf("MaxContextChars = %d, want 1280", cfg.MaxContextChars)
	}
	if cfg.HumeBaseURL != "wss://api.hume.ai/v0/evi/chat" {
		t.Errorf("HumeBaseURL = %q", cfg.HumeBaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("FLUSH_THRESHOLD_MS", "250")
	t.Setenv("ASSISTANT_DEBOUNCE_MS", "0")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.FlushThresholdMS != 250 {
		t.Errorf("FlushThresholdMS = %d, want 250", cfg.FlushThresholdMS)
	}
	if cfg.AssistantDebounceMS != 0 {
		t.Errorf("AssistantDebounceMS = %d, want 0", cfg.AssistantDebounceMS)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"missing discord token", "DISCORD_TOKEN"},
		{"missing hume config id", "HUME_CONFIG_ID"},
		{"missing hume api key", "HUME_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")

			if _, err := Load(); err == nil {
				t.Errorf("Load() succeeded with %s unset", tt.unset)
			}
		})
	}
}
