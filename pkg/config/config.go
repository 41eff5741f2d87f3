// Package config загружает конфигурацию сервисов из переменных окружения.
// Файл .env подхватывается, если он есть рядом с бинарником.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config — полная конфигурация одного сервиса.
// Все четыре сервиса (order, payment, inventory, shipping) читают одну и ту же структуру,
// различаются только значения переменных окружения.
type Config struct {
	App     AppConfig
	MySQL   MySQLConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Jaeger  JaegerConfig
	Metrics MetricsConfig
	Relay   RelayConfig
	Retry   RetryConfig
	Saga    SagaConfig
	Admin   AdminConfig
}

// AppConfig — общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"fulfillment"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// MySQLConfig — подключение к собственной БД сервиса.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"fulfillment"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"MYSQL_AUTO_MIGRATE" envDefault:"false"`
}

// DSN возвращает строку подключения к MySQL.
// loc=UTC: created_at outbox сравнивается между инстансами relay.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig — Redis для leader lock relay, rate limit admin API и кэша остатков.
type RedisConfig struct {
	Host     string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int           `env:"REDIS_PORT" envDefault:"6379"`
	Password string        `env:"REDIS_PASSWORD" envDefault:""`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL time.Duration `env:"REDIS_CACHE_TTL" envDefault:"30s"`
}

// Addr возвращает адрес Redis.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig — подключение к брокеру.
type KafkaConfig struct {
	Brokers           []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup     string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"fulfillment"`
	EnsureTopics      bool     `env:"KAFKA_ENSURE_TOPICS" envDefault:"true"`
	Partitions        int      `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
	ReplicationFactor int      `env:"KAFKA_TOPIC_REPLICATION" envDefault:"1"`
}

// JaegerConfig — экспорт трасс через OTLP gRPC.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig — HTTP сервер /metrics, /healthz, /readyz.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес metrics сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RelayConfig — настройки Outbox Relay.
type RelayConfig struct {
	Interval       time.Duration `env:"RELAY_INTERVAL" envDefault:"1s"`
	BatchSize      int           `env:"RELAY_BATCH_SIZE" envDefault:"100"`
	PublishTimeout time.Duration `env:"RELAY_PUBLISH_TIMEOUT" envDefault:"3s"`
	LockBudget     time.Duration `env:"RELAY_LOCK_BUDGET" envDefault:"5s"`
	// LeaderLock включает блокировку лидера для relay и сканирования таймаутов.
	LeaderLock     bool          `env:"RELAY_LEADER_LOCK" envDefault:"false"`
	LockTTL        time.Duration `env:"RELAY_LOCK_TTL" envDefault:"10s"`
}

// RetryConfig — цепочка повторной доставки для потребителей.
type RetryConfig struct {
	Attempts   int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	BaseDelay  time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	Multiplier float64       `env:"RETRY_MULTIPLIER" envDefault:"2"`
	MaxDelay   time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`
}

// SagaConfig — периодическое сканирование зависших шагов саги.
type SagaConfig struct {
	PaymentTimeout time.Duration `env:"SAGA_PAYMENT_TIMEOUT" envDefault:"15m"`
	ScanInterval   time.Duration `env:"SAGA_SCAN_INTERVAL" envDefault:"30s"`
	ScanBatchSize  int           `env:"SAGA_SCAN_BATCH_SIZE" envDefault:"100"`
}

// AdminConfig — HTTP API сервиса и разбора dead letter записей.
type AdminConfig struct {
	Enabled    bool          `env:"ADMIN_ENABLED" envDefault:"true"`
	Port       int           `env:"ADMIN_PORT" envDefault:"8081"`
	RateLimit  int           `env:"ADMIN_RATE_LIMIT" envDefault:"100"`
	RateWindow time.Duration `env:"ADMIN_RATE_WINDOW" envDefault:"1m"`
}

// Addr возвращает адрес admin API.
func (c AdminConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load читает .env (если есть) и переменные окружения.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse()
}

// LoadFromFile читает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, без которых relay и цепочка повторов не работают.
func (c *Config) Validate() error {
	if c.Relay.Interval <= 0 {
		return fmt.Errorf("RELAY_INTERVAL должен быть больше нуля")
	}
	if c.Relay.BatchSize <= 0 {
		return fmt.Errorf("RELAY_BATCH_SIZE должен быть больше нуля")
	}
	if c.Retry.Attempts < 0 {
		return fmt.Errorf("RETRY_ATTEMPTS не может быть отрицательным")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER должен быть не меньше 1")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY меньше RETRY_BASE_DELAY")
	}
	return nil
}

// IsDevelopment — запуск в development окружении.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction — запуск в production окружении.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
