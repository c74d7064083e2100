package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "7860" {
		t.Errorf("Expected default port 7860, got %q", cfg.Port)
	}
	if cfg.Addr() != "0.0.0.0:7860" {
		t.Errorf("Expected addr 0.0.0.0:7860, got %q", cfg.Addr())
	}
	if cfg.GeminiTimeout != 120*time.Second {
		t.Errorf("Expected 120s timeout, got %s", cfg.GeminiTimeout)
	}
	if cfg.GeminiTemperature != 0.7 {
		t.Errorf("Expected temperature 0.7, got %v", cfg.GeminiTemperature)
	}
	if cfg.GeminiMaxOutputTokens != 1024 {
		t.Errorf("Expected 1024 max output tokens, got %d", cfg.GeminiMaxOutputTokens)
	}
	if cfg.HistoryWindow != 3 {
		t.Errorf("Expected history window 3, got %d", cfg.HistoryWindow)
	}
	if cfg.GeminiTransport != "rest" {
		t.Errorf("Expected rest transport, got %q", cfg.GeminiTransport)
	}
	if cfg.UploadDir == "" {
		t.Error("Expected upload dir to default to a temp path")
	}
	if cfg.UploadMaxAge != time.Hour {
		t.Errorf("Expected 1h upload max age, got %s", cfg.UploadMaxAge)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PORT", "9000")
	t.Setenv("GEMINI_TRANSPORT", "SDK")
	t.Setenv("HISTORY_WINDOW", "5")
	t.Setenv("SESSION_TTL", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Expected port 9000, got %q", cfg.Port)
	}
	if cfg.GeminiTransport != "sdk" {
		t.Errorf("Expected sdk transport, got %q", cfg.GeminiTransport)
	}
	if cfg.HistoryWindow != 5 {
		t.Errorf("Expected history window 5, got %d", cfg.HistoryWindow)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("Expected 1h session TTL, got %s", cfg.SessionTTL)
	}
}

func TestLoad_ZeroTemperature(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_TEMPERATURE", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GeminiTemperature != 0 {
		t.Errorf("Expected temperature 0 to be kept, got %v", cfg.GeminiTemperature)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"blank", "   "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", tc.value)

			_, err := Load()
			if !errors.Is(err, ErrMissingAPIKey) {
				t.Errorf("Expected ErrMissingAPIKey, got %v", err)
			}
		})
	}
}

func TestLoad_InvalidTransport(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_TRANSPORT", "grpc")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown transport")
	}
}

func TestMustLoad_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	t.Setenv("GEMINI_API_KEY", "")
	MustLoad()
}
