package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL           = "http://localhost:8000"
	defaultLanguage          = "en"
	defaultConversationPoll  = 10 * time.Second
	defaultMessagePoll       = 5 * time.Second
	defaultRequestTimeout    = 30 * time.Second
	defaultTranscribeTimeout = 2 * time.Minute
	configSubdir             = "chatterm"
)

// SupportedLanguages lists the transcription languages the service accepts.
var SupportedLanguages = []string{"en", "ar"}

// Config holds the runtime options for the chat client.
type Config struct {
	APIBaseURL        string        `yaml:"api_base_url"`
	Token             string        `yaml:"token"`
	Language          string        `yaml:"language"`
	ConversationPoll  time.Duration `yaml:"conversation_poll"`
	MessagePoll       time.Duration `yaml:"message_poll"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
	RecordCommand     []string      `yaml:"record_command"`
	ArchivePath       string        `yaml:"archive_path"`
	Logging           LoggingConfig `yaml:"logging"`
}

// LoggingConfig mirrors the zap options exposed to users.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Encoding     string `yaml:"encoding"`
	File         string `yaml:"file"`
	Development  bool   `yaml:"development"`
	EnableCaller bool   `yaml:"enable_caller"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		APIBaseURL:        defaultBaseURL,
		Language:          defaultLanguage,
		ConversationPoll:  defaultConversationPoll,
		MessagePoll:       defaultMessagePoll,
		RequestTimeout:    defaultRequestTimeout,
		TranscribeTimeout: defaultTranscribeTimeout,
		ArchivePath:       filepath.Join(".", "chatterm-archive.json"),
		Logging: LoggingConfig{
			Level:       "info",
			Encoding:    "json",
			ServiceName: "chatterm",
		},
	}
}

// Load layers .env, an optional YAML file and environment variables on top of
// the defaults. An empty path falls back to the user config directory and is
// skipped when no file exists there.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles() error {
	if err := godotenv.Load(".env"); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			// a missing .env is fine; the process environment still applies
			return nil
		}
		return err
	}
	return nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configSubdir, "config.yaml")
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CHATTERM_API_BASE_URL")); v != "" {
		c.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATTERM_TOKEN")); v != "" {
		c.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATTERM_LANGUAGE")); v != "" {
		c.Language = strings.ToLower(v)
	}
	c.ConversationPoll = parseDuration(os.Getenv("CHATTERM_CONVERSATION_POLL"), c.ConversationPoll)
	c.MessagePoll = parseDuration(os.Getenv("CHATTERM_MESSAGE_POLL"), c.MessagePoll)
	c.RequestTimeout = parseDuration(os.Getenv("CHATTERM_REQUEST_TIMEOUT"), c.RequestTimeout)
	c.TranscribeTimeout = parseDuration(os.Getenv("CHATTERM_TRANSCRIBE_TIMEOUT"), c.TranscribeTimeout)
	if v := strings.TrimSpace(os.Getenv("CHATTERM_RECORD_COMMAND")); v != "" {
		c.RecordCommand = strings.Fields(v)
	}
	if v := strings.TrimSpace(os.Getenv("CHATTERM_ARCHIVE_PATH")); v != "" {
		c.ArchivePath = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("LOG_ENCODING")); v != "" {
		c.Logging.Encoding = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FILE")); v != "" {
		c.Logging.File = v
	}
	c.Logging.Development = parseBool(os.Getenv("LOG_DEVELOPMENT"), c.Logging.Development)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		return errors.New("config: api base url is required")
	}
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: invalid api base url %q", c.APIBaseURL)
	}
	if !IsSupportedLanguage(c.Language) {
		return fmt.Errorf("config: unsupported language %q", c.Language)
	}
	if c.ConversationPoll <= 0 || c.MessagePoll <= 0 {
		return errors.New("config: poll intervals must be positive")
	}
	if c.RequestTimeout <= 0 || c.TranscribeTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	return nil
}

// IsSupportedLanguage reports whether lang is a known transcription language.
func IsSupportedLanguage(lang string) bool {
	for _, candidate := range SupportedLanguages {
		if candidate == lang {
			return true
		}
	}
	return false
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
