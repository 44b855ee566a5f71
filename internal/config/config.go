// Package config загружает конфигурацию сервисов.
//
// Слои (каждый следующий перекрывает предыдущий):
//  1. Значения по умолчанию (Defaults)
//  2. YAML файл из RATING_CONFIG (если задан)
//  3. Переменные окружения RATING_*: RATING_DATABASE__URL → database.url
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix — префикс переменных окружения.
	EnvPrefix = "RATING_"

	// EnvConfigFile — путь к YAML файлу конфигурации.
	EnvConfigFile = "RATING_CONFIG"
)

// Хранилища.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config — конфигурация rating-api и rating-worker.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Storage  string         `koanf:"storage" validate:"oneof=postgres memory"`
	Database DatabaseConfig `koanf:"database"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
	Redis    RedisConfig    `koanf:"redis"`
	Lookup   LookupConfig   `koanf:"lookup"`
	Executor ExecutorConfig `koanf:"executor"`
	Tracing  TracingConfig  `koanf:"tracing"`
	Log      LogConfig      `koanf:"log"`
}

// HTTPConfig — HTTP сервер.
type HTTPConfig struct {
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig — PostgreSQL.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns" validate:"gte=0"`
	Migrate  bool   `koanf:"migrate"`
}

// RabbitMQConfig — брокер. Пустой URL — события не публикуются.
type RabbitMQConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig — кэш flows. Пустой Addr — кэш выключен.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db" validate:"gte=0"`
	TTL      time.Duration `koanf:"ttl" validate:"gte=0"`
}

// LookupConfig — обновление lookup-таблиц.
type LookupConfig struct {
	RefreshSchedule string `koanf:"refresh_schedule"`
}

// ExecutorConfig — выполнение flows.
type ExecutorConfig struct {
	IterationWorkers int           `koanf:"iteration_workers" validate:"gt=0,lte=256"`
	StepTimeout      time.Duration `koanf:"step_timeout" validate:"gte=0"`
	PremiumField     string        `koanf:"premium_field" validate:"required"`
	WorkerPrefetch   int           `koanf:"worker_prefetch" validate:"gt=0"`

	// StaleAfter — незавершённая транзакция без изменений дольше этого срока помечается FAILED воркером.
	StaleAfter    time.Duration `koanf:"stale_after" validate:"gte=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gte=0"`
}

// TracingConfig — OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
}

// LogConfig — логирование (LOG_LEVEL/LOG_FORMAT тоже работают).
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"omitempty,oneof=json text"`
}

// Defaults возвращает конфигурацию по умолчанию.
func Defaults() Config {
	return Config{
		HTTP:    HTTPConfig{Port: 8080, ShutdownTimeout: 10 * time.Second},
		Storage: StorageMemory,
		Database: DatabaseConfig{
			MaxConns: 10,
			Migrate:  true,
		},
		Redis:  RedisConfig{TTL: 5 * time.Minute},
		Lookup: LookupConfig{RefreshSchedule: "@every 5m"},
		Executor: ExecutorConfig{
			IterationWorkers: 4,
			StepTimeout:      30 * time.Second,
			PremiumField:     "premium",
			WorkerPrefetch:   10,
			StaleAfter:       10 * time.Minute,
			SweepInterval:    time.Minute,
		},
		Tracing: TracingConfig{ServiceName: "ratingflow"},
	}
}

// Load собирает конфигурацию из умолчаний, файла и окружения.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(EnvConfigFile))
}

// LoadFrom — как Load, но с явным путём к файлу (пусто — без файла).
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey переводит RATING_DATABASE__URL в database.url.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate проверяет конфигурацию.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Storage == StoragePostgres && c.Database.URL == "" {
		return fmt.Errorf("%w: database.url is required for postgres storage", ErrInvalidConfig)
	}
	return nil
}
