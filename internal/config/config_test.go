package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMergesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("api_base_url: https://chat.example.com/\nlanguage: ar\nmessage_poll: 3s\nrecord_command: [sox, -d, -t, wav, -]\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATTERM_CONVERSATION_POLL", "20s")
	t.Setenv("CHATTERM_TOKEN", "abc")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != "https://chat.example.com" {
		t.Fatalf("base url not normalized: %q", cfg.APIBaseURL)
	}
	if cfg.Language != "ar" {
		t.Fatalf("language = %q, want ar", cfg.Language)
	}
	if cfg.MessagePoll != 3*time.Second {
		t.Fatalf("message poll = %s, want 3s", cfg.MessagePoll)
	}
	if cfg.ConversationPoll != 20*time.Second {
		t.Fatalf("conversation poll = %s, want env override 20s", cfg.ConversationPoll)
	}
	if cfg.Token != "abc" {
		t.Fatalf("token = %q", cfg.Token)
	}
	if len(cfg.RecordCommand) != 5 || cfg.RecordCommand[0] != "sox" {
		t.Fatalf("record command = %#v", cfg.RecordCommand)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty url", func(c *Config) { c.APIBaseURL = " " }},
		{"relative url", func(c *Config) { c.APIBaseURL = "/api" }},
		{"language", func(c *Config) { c.Language = "fr" }},
		{"poll", func(c *Config) { c.MessagePoll = 0 }},
		{"timeout", func(c *Config) { c.RequestTimeout = -time.Second }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseDurationFallsBack(t *testing.T) {
	t.Parallel()

	if got := parseDuration("nope", time.Second); got != time.Second {
		t.Fatalf("parseDuration fallback = %s", got)
	}
	if got := parseDuration("-5s", time.Second); got != time.Second {
		t.Fatalf("negative durations should fall back, got %s", got)
	}
	if got := parseDuration("250ms", time.Second); got != 250*time.Millisecond {
		t.Fatalf("parseDuration = %s", got)
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "chatterm.log")
	logger, err := NewLogger(LoggingConfig{Level: "debug", File: path, ServiceName: "test"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log output")
	}
}
