package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone  = "America/Sao_Paulo"
	configPathEnv    = "PRICEWATCH_CONFIG"
	databaseDSNEnv   = "DATABASE_DSN"
	sourceURLEnv     = "PRICEWATCH_SOURCE_URL"
	sourceAPIKeyEnv  = "PRICEWATCH_SOURCE_API_KEY"
	httpAddrEnv      = "PRICEWATCH_HTTP_ADDR"
	adminAPIKeyEnv   = "PRICEWATCH_API_KEY"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv  = "TELEGRAM_CHAT_ID"
)

// Duration wraps time.Duration with YAML decoding from strings like "15m".
type Duration time.Duration

// UnmarshalYAML parses Go duration syntax.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Source        SourceConfig       `yaml:"source"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	HTTP          HTTPConfig         `yaml:"http"`
	Database      DatabaseConfig     `yaml:"database"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SourceConfig describes the upstream tabular source and fetch policy.
type SourceConfig struct {
	Fetcher        string   `yaml:"fetcher"` // "sheets" or "htmltable"
	BaseURL        string   `yaml:"baseUrl"`
	APIKey         string   `yaml:"apiKey"`
	DatasetKeys    []string `yaml:"datasetKeys"` // for fetchers that cannot enumerate
	CacheTTL       Duration `yaml:"cacheTtl"`
	FetchTimeout   Duration `yaml:"fetchTimeout"`
	MaxRetries     int      `yaml:"maxRetries"`
	RetryBaseDelay Duration `yaml:"retryBaseDelay"`
	RatePerSecond  float64  `yaml:"ratePerSecond"`
	RateBurst      int      `yaml:"rateBurst"`
}

// SchedulerConfig defines the Peak/OffPeak cadence and business hours.
type SchedulerConfig struct {
	Timezone          string         `yaml:"timezone"`
	BusinessHoursFrom string         `yaml:"businessHoursFrom"` // "HH:MM"
	BusinessHoursTo   string         `yaml:"businessHoursTo"`   // "HH:MM"
	PeakInterval      Duration       `yaml:"peakInterval"`
	OffPeakInterval   Duration       `yaml:"offPeakInterval"`
	ModeCheckInterval Duration       `yaml:"modeCheckInterval"`
	location          *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// Window returns the business-hours window as minutes since midnight.
func (s SchedulerConfig) Window() (fromMin, toMin int) {
	fromMin = parseClock(s.BusinessHoursFrom, 8*60)
	toMin = parseClock(s.BusinessHoursTo, 20*60)
	return fromMin, toMin
}

func parseClock(value string, fallback int) int {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return fallback
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return fallback
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return fallback
	}
	return h*60 + m
}

// HTTPConfig describes the API listener.
type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	AdminAPIKey string `yaml:"adminApiKey"`
}

// DatabaseConfig describes the optional Postgres audit sink.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NotificationConfig encapsulates outbound alert channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send price alerts.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.clampIntervals()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(sourceURLEnv); v != "" {
		c.Source.BaseURL = v
	}

	if v := os.Getenv(sourceAPIKeyEnv); v != "" {
		c.Source.APIKey = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv(adminAPIKeyEnv); v != "" {
		c.HTTP.AdminAPIKey = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// clampIntervals enforces peak <= offPeak.
func (c *Config) clampIntervals() {
	if c.Scheduler.PeakInterval > c.Scheduler.OffPeakInterval {
		log.Printf("config: peak interval %s exceeds off-peak %s, clamping",
			c.Scheduler.PeakInterval.Std(), c.Scheduler.OffPeakInterval.Std())
		c.Scheduler.PeakInterval = c.Scheduler.OffPeakInterval
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Source.Fetcher != "" {
		base.Source.Fetcher = override.Source.Fetcher
	}
	if override.Source.BaseURL != "" {
		base.Source.BaseURL = override.Source.BaseURL
	}
	if override.Source.APIKey != "" {
		base.Source.APIKey = override.Source.APIKey
	}
	if len(override.Source.DatasetKeys) > 0 {
		base.Source.DatasetKeys = override.Source.DatasetKeys
	}
	if override.Source.CacheTTL > 0 {
		base.Source.CacheTTL = override.Source.CacheTTL
	}
	if override.Source.FetchTimeout > 0 {
		base.Source.FetchTimeout = override.Source.FetchTimeout
	}
	if override.Source.MaxRetries > 0 {
		base.Source.MaxRetries = override.Source.MaxRetries
	}
	if override.Source.RetryBaseDelay > 0 {
		base.Source.RetryBaseDelay = override.Source.RetryBaseDelay
	}
	if override.Source.RatePerSecond > 0 {
		base.Source.RatePerSecond = override.Source.RatePerSecond
	}
	if override.Source.RateBurst > 0 {
		base.Source.RateBurst = override.Source.RateBurst
	}

	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.BusinessHoursFrom != "" {
		base.Scheduler.BusinessHoursFrom = override.Scheduler.BusinessHoursFrom
	}
	if override.Scheduler.BusinessHoursTo != "" {
		base.Scheduler.BusinessHoursTo = override.Scheduler.BusinessHoursTo
	}
	if override.Scheduler.PeakInterval > 0 {
		base.Scheduler.PeakInterval = override.Scheduler.PeakInterval
	}
	if override.Scheduler.OffPeakInterval > 0 {
		base.Scheduler.OffPeakInterval = override.Scheduler.OffPeakInterval
	}
	if override.Scheduler.ModeCheckInterval > 0 {
		base.Scheduler.ModeCheckInterval = override.Scheduler.ModeCheckInterval
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}
	if override.HTTP.AdminAPIKey != "" {
		base.HTTP.AdminAPIKey = override.HTTP.AdminAPIKey
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Source: SourceConfig{
			Fetcher:        "sheets",
			BaseURL:        "https://sheets.example.org/v1",
			CacheTTL:       Duration(30 * time.Minute),
			FetchTimeout:   Duration(10 * time.Second),
			MaxRetries:     3,
			RetryBaseDelay: Duration(time.Second),
			RatePerSecond:  2.0,
			RateBurst:      3,
		},
		Scheduler: SchedulerConfig{
			Timezone:          defaultTimezone,
			BusinessHoursFrom: "08:00",
			BusinessHoursTo:   "20:00",
			PeakInterval:      Duration(15 * time.Minute),
			OffPeakInterval:   Duration(2 * time.Hour),
			ModeCheckInterval: Duration(time.Minute),
			location:          tz,
		},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{DSN: ""},
	}
}
