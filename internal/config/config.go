// Package config loads Vigil configuration from the environment.
//
// Sources, in order: built-in defaults, the .env file under VIGIL_DATA_DIR
// (or the working directory), then process environment variables. The .env
// file carries credentials (SMTP password, API key); everything else is
// plain environment configuration.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr string `validate:"required"`
	DataDir    string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Database
	DatabaseURL          string `validate:"required"`
	DatabasePoolSize     int    `validate:"gte=1"`
	DatabasePoolOverflow int    `validate:"gte=0"`
	DatabasePoolTimeout  int    `validate:"gte=1"`
	DatabasePoolRecycle  int    `validate:"gte=1"`

	// API key gate for mutating endpoints
	APIKeyEnabled bool
	APIKey        string

	// Notification delivery
	Notifications NotificationConfig

	// Undelivered-alert reaper
	ReaperIntervalSeconds int `validate:"gte=1"`
	ReaperGraceSeconds    int `validate:"gte=0"`
	ReaperMaxAttempts     int `validate:"gte=1"`
}

// NotificationConfig holds transport settings for the delivery channels.
type NotificationConfig struct {
	Enabled bool

	SMTPHost        string
	SMTPPort        int `validate:"gte=0,lte=65535"`
	SMTPUser        string
	SMTPPassword    string
	SMTPFromAddress string `validate:"omitempty,email"`
	SMTPUseTLS      bool

	DefaultEmailRecipients []string `validate:"dive,email"`
	DefaultWebhookURL      string   `validate:"omitempty,url"`
	WebhookTimeoutSeconds  int      `validate:"gte=1"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() *Config {
	return &Config{
		ListenAddr:           ":8080",
		LogLevel:             "info",
		LogFormat:            "auto",
		DatabasePoolSize:     5,
		DatabasePoolOverflow: 10,
		DatabasePoolTimeout:  30,
		DatabasePoolRecycle:  1800,
		Notifications: NotificationConfig{
			Enabled:               true,
			SMTPPort:              587,
			WebhookTimeoutSeconds: 30,
		},
		ReaperIntervalSeconds: 60,
		ReaperGraceSeconds:    120,
		ReaperMaxAttempts:     5,
	}
}

// Load reads configuration from the .env file and environment, then
// validates it. Validation failures are fatal config errors.
func Load() (*Config, error) {
	cfg := Defaults()

	if dir := os.Getenv("VIGIL_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
		envFile := filepath.Join(dir, ".env")
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", envFile).Msg("Failed to load .env file")
			}
		} else {
			log.Debug().Str("path", envFile).Msg("Loaded .env file")
		}
	} else if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from working directory")
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays recognized environment variables onto the config.
// Every key is read as VIGIL_<KEY> first, then bare.
func (c *Config) applyEnv() {
	if addr := getEnv("LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if level := getEnv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if format := getEnv("LOG_FORMAT"); format != "" {
		c.LogFormat = format
	}
	if file := getEnv("LOG_FILE"); file != "" {
		c.LogFile = file
	}

	if url := getEnv("DATABASE_URL"); url != "" {
		c.DatabaseURL = url
	}
	setInt(&c.DatabasePoolSize, "DATABASE_POOL_SIZE")
	setInt(&c.DatabasePoolOverflow, "DATABASE_POOL_OVERFLOW")
	setInt(&c.DatabasePoolTimeout, "DATABASE_POOL_TIMEOUT")
	setInt(&c.DatabasePoolRecycle, "DATABASE_POOL_RECYCLE")

	setBool(&c.APIKeyEnabled, "API_KEY_ENABLED")
	if key := getEnv("API_KEY"); key != "" {
		c.APIKey = key
	}

	n := &c.Notifications
	setBool(&n.Enabled, "NOTIFICATION_ENABLED")
	if host := getEnv("SMTP_HOST"); host != "" {
		n.SMTPHost = host
	}
	setInt(&n.SMTPPort, "SMTP_PORT")
	if user := getEnv("SMTP_USER"); user != "" {
		n.SMTPUser = user
	}
	if pass := getEnv("SMTP_PASSWORD"); pass != "" {
		n.SMTPPassword = pass
	}
	if from := getEnv("SMTP_FROM_ADDRESS"); from != "" {
		n.SMTPFromAddress = from
	}
	setBool(&n.SMTPUseTLS, "SMTP_USE_TLS")
	if recipients := getEnv("DEFAULT_EMAIL_RECIPIENTS"); recipients != "" {
		n.DefaultEmailRecipients = splitList(recipients)
	}
	if url := getEnv("DEFAULT_WEBHOOK_URL"); url != "" {
		n.DefaultWebhookURL = url
	}
	setInt(&n.WebhookTimeoutSeconds, "WEBHOOK_TIMEOUT_SECONDS")

	setInt(&c.ReaperIntervalSeconds, "REAPER_INTERVAL_SECONDS")
	setInt(&c.ReaperGraceSeconds, "REAPER_GRACE_SECONDS")
	setInt(&c.ReaperMaxAttempts, "REAPER_MAX_ATTEMPTS")
}

// Validate checks the loaded configuration. Any failure refuses startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.FatalConfigf("DATABASE_URL is required")
	}
	if err := validator.New().Struct(c); err != nil {
		return errors.FatalConfigf("invalid configuration: %v", err)
	}
	if c.APIKeyEnabled && strings.TrimSpace(c.APIKey) == "" {
		return errors.FatalConfigf("API_KEY_ENABLED is set but API_KEY is empty")
	}
	return nil
}

// getEnv reads VIGIL_<key>, falling back to the unprefixed name.
func getEnv(key string) string {
	if v := os.Getenv("VIGIL_" + key); v != "" {
		return v
	}
	return os.Getenv(key)
}

func setInt(dst *int, key string) {
	if raw := getEnv(key); raw != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			*dst = v
		} else {
			log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-integer environment value")
		}
	}
}

func setBool(dst *bool, key string) {
	if raw := getEnv(key); raw != "" {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			*dst = v
		} else {
			log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-boolean environment value")
		}
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
