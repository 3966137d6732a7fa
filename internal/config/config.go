package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"accountant/internal/core"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection and database
	DataBackend  string
	SQLiteDBPath string

	// Telegram
	TelegramToken     string
	TelegramChannelID int64
	// Webhook mode when set, long polling otherwise.
	WebhookURL string

	// AMQP; the queue is bypassed when AMQPURL is empty.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Ledger
	HomeCurrency string
	Timezone     string

	// Exchange rates
	RatesPrimaryURL  string
	RatesFallbackURL string
	RateCacheTTL     time.Duration

	// Cron specs; empty means the scheduler default.
	ReminderSchedule       string
	DailySummarySchedule   string
	MonthlySummarySchedule string

	// Google Sheets mirror, enabled by a spreadsheet id.
	GoogleSpreadsheetID string
	GoogleSheetName     string

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/accountant.db"),

		TelegramToken:     getEnv("TELEGRAM_TOKEN", ""),
		TelegramChannelID: getEnvInt64("TELEGRAM_CHANNEL_ID", 0),
		WebhookURL:        getEnv("WEBHOOK_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "accountant"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "channel_events"),

		HomeCurrency: strings.ToUpper(getEnv("HOME_CURRENCY", "AMD")),
		Timezone:     getEnv("TIMEZONE", "Asia/Dubai"),

		RatesPrimaryURL:  getEnv("RATES_PRIMARY_URL", ""),
		RatesFallbackURL: getEnv("RATES_FALLBACK_URL", ""),
		RateCacheTTL:     getEnvDuration("RATE_CACHE_TTL", time.Hour),

		ReminderSchedule:       getEnv("REMINDER_SCHEDULE", ""),
		DailySummarySchedule:   getEnv("DAILY_SUMMARY_SCHEDULE", ""),
		MonthlySummarySchedule: getEnv("MONTHLY_SUMMARY_SCHEDULE", ""),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// WebhookMode reports whether updates arrive over HTTP instead of polling.
func (c *Config) WebhookMode() bool { return c.WebhookURL != "" }

// WebhookPath is the route Telegram posts updates to.
func (c *Config) WebhookPath() string { return "/bot" + c.TelegramToken }

// QueueEnabled reports whether events go through AMQP.
func (c *Config) QueueEnabled() bool { return c.AMQPURL != "" }

// SheetsEnabled reports whether daily reports are mirrored to Google Sheets.
func (c *Config) SheetsEnabled() bool { return c.GoogleSpreadsheetID != "" }

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Telegram
	if c.TelegramToken == "" {
		errors = append(errors, "TELEGRAM_TOKEN is required")
	}
	if c.TelegramChannelID == 0 {
		errors = append(errors, "TELEGRAM_CHANNEL_ID is required and must be a numeric chat id")
	}
	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid webhook URL '%s': must be an absolute URL", c.WebhookURL))
		} else if u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid webhook URL scheme '%s': must be 'https'", u.Scheme))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Ledger
	if !core.IsCurrencyCode(c.HomeCurrency) {
		errors = append(errors, fmt.Sprintf("invalid home currency '%s': must be a 3-letter code", c.HomeCurrency))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	// Rates
	for _, v := range []envValue{{"RATES_PRIMARY_URL", c.RatesPrimaryURL}, {"RATES_FALLBACK_URL", c.RatesFallbackURL}} {
		if v.value != "" && !strings.Contains(v.value, "{currency}") {
			errors = append(errors, fmt.Sprintf("%s must contain the {currency} placeholder", v.name))
		}
	}
	if c.RateCacheTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rate cache TTL %v: must be at least 1 minute", c.RateCacheTTL))
	}

	// Schedules
	for _, v := range []envValue{
		{"REMINDER_SCHEDULE", c.ReminderSchedule},
		{"DAILY_SUMMARY_SCHEDULE", c.DailySummarySchedule},
		{"MONTHLY_SUMMARY_SCHEDULE", c.MonthlySummarySchedule},
	} {
		if v.value == "" {
			continue
		}
		if _, err := cron.ParseStandard(v.value); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", v.name, v.value, err))
		}
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

type envValue struct {
	name  string
	value string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
