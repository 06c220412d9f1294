package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_TIMEZONE", "Asia/Manila")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.Conversation.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session TTL, got %v", cfg.Conversation.SessionTTL)
	}
	if cfg.Canvas.Retry.MaxAttempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", cfg.Canvas.Retry.MaxAttempts)
	}
	if cfg.ConsoleEnabled {
		t.Fatal("console should be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("CONSENT_PROMPT_DELAY", "3")
	t.Setenv("CANVAS_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("CONSOLE_ENABLED", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Conversation.SessionTTL != 2*time.Hour {
		t.Fatalf("expected 2h, got %v", cfg.Conversation.SessionTTL)
	}
	if cfg.Conversation.ConsentPromptDelay != 3*time.Second {
		t.Fatalf("expected 3s, got %v", cfg.Conversation.ConsentPromptDelay)
	}
	if cfg.Canvas.RequestsPerSecond != 2.5 {
		t.Fatalf("expected 2.5 rps, got %v", cfg.Canvas.RequestsPerSecond)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel)
	}
	if !cfg.ConsoleEnabled {
		t.Fatal("expected console enabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"empty db path", map[string]string{"DB_PATH": ""}},
		{"bad timezone", map[string]string{"DEFAULT_TIMEZONE": "Mars/Olympus"}},
		{"empty timezone", map[string]string{"DEFAULT_TIMEZONE": ""}},
		{"bad port", map[string]string{"PORT": "http"}},
		{"relative canvas url", map[string]string{"CANVAS_BASE_URL": "canvas.local"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
