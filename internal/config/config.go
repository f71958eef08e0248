// Package config loads bot settings from an optional YAML file, a .env file
// and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trainer-bot/internal/brain"
	"trainer-bot/internal/schedule"
)

type Config struct {
	Bluesky  BlueskyConfig  `yaml:"bluesky"`
	LLM      LLMConfig      `yaml:"llm"`
	Reminder ReminderConfig `yaml:"reminder"`
	Storage  StorageConfig  `yaml:"storage"`
	Telegram TelegramConfig `yaml:"telegram"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type BlueskyConfig struct {
	Identifier   string `yaml:"identifier"`
	AppPassword  string `yaml:"app_password"`
	MonitoredDID string `yaml:"monitored_did"`
	ServiceURL   string `yaml:"service_url"`
	Hashtag      string `yaml:"hashtag"`
}

type LLMConfig struct {
	APIKey         string   `yaml:"api_key"`
	Model          string   `yaml:"model"`
	FallbackModels []string `yaml:"fallback_models"`
}

// ReminderConfig durations are hours.
type ReminderConfig struct {
	InitialHours  int `yaml:"initial_hours"`
	IntervalHours int `yaml:"interval_hours"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // json, sqlite, postgres
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	RunInterval string `yaml:"run_interval"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Bluesky: BlueskyConfig{
			ServiceURL: "https://bsky.social",
			Hashtag:    brain.Hashtag,
		},
		LLM: LLMConfig{
			Model:          brain.DefaultModel,
			FallbackModels: []string{"gemini-2.5-flash-lite"},
		},
		Reminder: ReminderConfig{
			InitialHours:  int(schedule.DefaultInitialThreshold / time.Hour),
			IntervalHours: int(schedule.DefaultRepeatInterval / time.Hour),
		},
		Storage: StorageConfig{
			Driver: "json",
			Path:   "data/storage.json",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			RunInterval: "5m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path if it exists, then .env, then the environment. An empty
// path skips the YAML step.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Bluesky.Identifier, "BSKY_USER_NAME")
	setString(&c.Bluesky.AppPassword, "BSKY_APP_PASS")
	setString(&c.Bluesky.MonitoredDID, "CHECK_BSKY_DID")
	setString(&c.Bluesky.ServiceURL, "BSKY_SERVICE_URL")
	setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	setString(&c.LLM.APIKey, "GOOGLE_API_KEY")
	setString(&c.LLM.Model, "GEMINI_MODEL")
	if v := os.Getenv("GEMINI_FALLBACK_MODELS"); v != "" {
		c.LLM.FallbackModels = splitList(v)
	}
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.Path, "STORAGE_PATH")
	setString(&c.Storage.DatabaseURL, "DATABASE_URL")
	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&c.Server.Addr, "HTTP_ADDR")
	setString(&c.Server.RunInterval, "RUN_INTERVAL")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if err := setInt(&c.Reminder.InitialHours, "REMINDER_INITIAL_HOURS"); err != nil {
		return err
	}
	return setInt(&c.Reminder.IntervalHours, "REMINDER_INTERVAL_HOURS")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports missing credentials and bad values.
func (c *Config) Validate() error {
	var errs []error
	if c.Bluesky.Identifier == "" || c.Bluesky.AppPassword == "" {
		errs = append(errs, errors.New("BSKY_USER_NAME and BSKY_APP_PASS are required"))
	}
	if c.Bluesky.MonitoredDID == "" {
		errs = append(errs, errors.New("CHECK_BSKY_DID is required"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("GOOGLE_API_KEY is required"))
	}
	if c.Reminder.InitialHours <= 0 || c.Reminder.IntervalHours <= 0 {
		errs = append(errs, errors.New("reminder hours must be positive"))
	}
	switch c.Storage.Driver {
	case "json", "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage path is required for %s", c.Storage.Driver))
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if _, err := time.ParseDuration(c.Server.RunInterval); err != nil {
		errs = append(errs, fmt.Errorf("run interval: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) ReminderInitial() time.Duration {
	return time.Duration(c.Reminder.InitialHours) * time.Hour
}

func (c *Config) ReminderInterval() time.Duration {
	return time.Duration(c.Reminder.IntervalHours) * time.Hour
}

// RunEvery returns the serve-mode polling interval.
func (c *Config) RunEvery() time.Duration {
	d, err := time.ParseDuration(c.Server.RunInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
