package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	StorageDriver   string
	LogLevel        string
	LogFormat       string
	HTTPTimeout     time.Duration
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration

	SmoochAppKeyID     string
	SmoochAppKeySecret string
	SmoochAppID        string
	SmoochAPIURL       string

	ChatAPIURL          string
	TelegramAPIEndpoint string

	RabbitMQURL      string
	RabbitMQExchange string

	// ServiceJWTSecret signs bearer tokens of main-API calls; empty disables the check.
	ServiceJWTSecret string
	// WebhookSecretHash is the bcrypt hash of the webhook X-API-Key; empty disables the check.
	WebhookSecretHash string

	ReplyRateLimit float64
	ReplyRateBurst int

	// SendRateLimit bounds outbound platform sends per integration.
	SendRateLimit float64
	SendRateBurst int

	WhatsAppDeviceDir string
}

// LoadDotEnv loads .env when present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", "0.0.0.0:8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverPostgres)),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),

		SmoochAppKeyID:     os.Getenv("SMOOCH_APP_KEY_ID"),
		SmoochAppKeySecret: os.Getenv("SMOOCH_APP_KEY_SECRET"),
		SmoochAppID:        os.Getenv("SMOOCH_APP_ID"),
		SmoochAPIURL:       os.Getenv("SMOOCH_API_URL"),

		ChatAPIURL:          os.Getenv("CHAT_API_URL"),
		TelegramAPIEndpoint: os.Getenv("TELEGRAM_API_ENDPOINT"),

		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "integrations"),

		ServiceJWTSecret:  os.Getenv("SERVICE_JWT_SECRET"),
		WebhookSecretHash: os.Getenv("WEBHOOK_SECRET_HASH"),

		WhatsAppDeviceDir: getEnv("WHATSAPP_DEVICE_DIR", "devices"),
	}

	var err error
	if cfg.HTTPTimeout, err = getDuration("HTTP_CLIENT_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxBodyBytes, err = getInt64("MAX_BODY_BYTES", 1<<20); err != nil {
		return nil, err
	}
	if cfg.ReplyRateLimit, err = getFloat("REPLY_RATE_LIMIT", 20); err != nil {
		return nil, err
	}
	burst, err := getInt64("REPLY_RATE_BURST", 40)
	if err != nil {
		return nil, err
	}
	cfg.ReplyRateBurst = int(burst)
	if cfg.SendRateLimit, err = getFloat("SEND_RATE_LIMIT", 25); err != nil {
		return nil, err
	}
	sendBurst, err := getInt64("SEND_RATE_BURST", 5)
	if err != nil {
		return nil, err
	}
	cfg.SendRateBurst = int(sendBurst)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=%s", StorageDriverPostgres)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}
	if c.ReplyRateLimit <= 0 || c.ReplyRateBurst <= 0 {
		return fmt.Errorf("REPLY_RATE_LIMIT and REPLY_RATE_BURST must be positive")
	}
	if c.SendRateLimit <= 0 || c.SendRateBurst <= 0 {
		return fmt.Errorf("SEND_RATE_LIMIT and SEND_RATE_BURST must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
