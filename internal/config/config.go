package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	PromotionLazy = "lazy"
	PromotionPush = "push"
)

type Config struct {
	Environment string
	LogLevel    string

	Storage string
	DBDSN   string

	HTTPAddr      string
	TelegramToken string

	RabbitMQURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	ConfirmationWindow time.Duration
	PromotionMode      string
	SweepInterval      time.Duration

	// EnvFileLoaded reports whether the .env file was found.
	EnvFileLoaded bool
}

// Load читает .env (если он есть) и переменные окружения
func Load(envFile string) (*Config, error) {
	cfg := &Config{}

	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if envFile != "" {
		if err := godotenv.Load(envFile); err == nil {
			cfg.EnvFileLoaded = true
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var errs []error
	cfg.Environment = getEnv("ENV", "development")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	cfg.Storage = getEnv("STORAGE", StoragePostgres)
	cfg.DBDSN = os.Getenv("DB_DSN")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.RabbitMQURL = os.Getenv("RABBITMQ_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getInt("REDIS_DB", 0, &errs)
	cfg.CacheTTL = getDuration("CACHE_TTL", 5*time.Minute, &errs)
	cfg.ConfirmationWindow = getDuration("CONFIRMATION_WINDOW", time.Hour, &errs)
	cfg.PromotionMode = getEnv("PROMOTION_MODE", PromotionLazy)
	cfg.SweepInterval = getDuration("SWEEP_INTERVAL", 0, &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные поля и допустимые значения
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required when STORAGE=%s", StoragePostgres)
		}
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage)
	}

	switch c.PromotionMode {
	case PromotionLazy:
	case PromotionPush:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when PROMOTION_MODE=%s", PromotionPush)
		}
	default:
		return fmt.Errorf("PROMOTION_MODE must be %q or %q, got %q", PromotionLazy, PromotionPush, c.PromotionMode)
	}

	if c.ConfirmationWindow <= 0 {
		return errors.New("CONFIRMATION_WINDOW must be positive")
	}
	if c.SweepInterval < 0 {
		return errors.New("SWEEP_INTERVAL must not be negative")
	}
	if c.CacheTTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
