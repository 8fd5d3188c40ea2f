package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска магазина.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr пустой — листинги корзины читаются из хранилища без кеша.
	RedisAddr string

	// KafkaBrokers — список брокеров через запятую; пустой отключает relay и consumer.
	KafkaBrokers       string
	KafkaConsumerGroup string

	BootstrapAdminID string
	RequestTimeout   time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — размер backlog, после которого /healthz сообщает degraded.
	OutboxMaxPending int

	BreakerFailures    int
	BreakerOpenTimeout time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает конфигурацию для локального запуска на memory-хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaConsumerGroup:          "shop-catalog",
		RequestTimeout:              10 * time.Second,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		BreakerFailures:             5,
		BreakerOpenTimeout:          30 * time.Second,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// storageDriver возвращает нормализованное имя драйвера; пустое значение
// означает memory.
func (c Config) storageDriver() string {
	if d := strings.ToLower(strings.TrimSpace(c.StorageDriver)); d != "" {
		return d
	}
	return StorageDriverMemory
}

// Validate отсекает конфигурации, с которыми сервис не сможет стартовать.
func (c Config) Validate() error {
	var errs []error
	switch c.storageDriver() {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires PostgresDSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.OutboxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("outbox batch size must be >= 0, got %d", c.OutboxBatchSize))
	}
	if c.OutboxMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("outbox max attempts must be >= 0, got %d", c.OutboxMaxAttempts))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request timeout must be >= 0"))
	}
	return errors.Join(errs...)
}
