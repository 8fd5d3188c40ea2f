package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/app"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

const (
	envLogLevel                    = "SHOP_LOG_LEVEL"
	envGRPCAddr                    = "SHOP_GRPC_ADDR"
	envHTTPAddr                    = "SHOP_HTTP_ADDR"
	envMetricsAddr                 = "SHOP_METRICS_ADDR"
	envStorageDriver               = "SHOP_STORAGE_DRIVER"
	envPostgresDSN                 = "SHOP_POSTGRES_DSN"
	envPostgresAutoMigrate         = "SHOP_POSTGRES_AUTO_MIGRATE"
	envRedisAddr                   = "SHOP_REDIS_ADDR"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaConsumerGroup          = "SHOP_KAFKA_CONSUMER_GROUP"
	envBootstrapAdminID            = "SHOP_BOOTSTRAP_ADMIN_ID"
	envRequestTimeout              = "SHOP_REQUEST_TIMEOUT"
	envOutboxPollInterval          = "SHOP_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "SHOP_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "SHOP_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "SHOP_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "SHOP_OUTBOX_MAX_PENDING"
	envBreakerFailures             = "SHOP_BREAKER_FAILURES"
	envBreakerOpenTimeout          = "SHOP_BREAKER_OPEN_TIMEOUT"
	envIdempotencyCleanupInterval  = "SHOP_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "SHOP_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		log.WithError(err).WithField("env", envLogLevel).Warn("invalid log level, using info")
		return
	}
	log.SetLevel(level)
}

// binding переносит одну переменную окружения в поле конфигурации.
type binding struct {
	key   string
	apply func(raw string) error
}

func bind[T any](key string, dst *T, parse func(string) (T, error)) binding {
	return binding{key: key, apply: func(raw string) error {
		v, err := parse(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}}
}

func text(raw string) (string, error) { return raw, nil }

func lower(raw string) (string, error) { return strings.ToLower(raw), nil }

type number interface{ ~int | ~int64 }

// atLeast оборачивает parse проверкой нижней границы.
func atLeast[T number](floor T, parse func(string) (T, error)) func(string) (T, error) {
	return func(raw string) (T, error) {
		v, err := parse(raw)
		if err == nil && v < floor {
			err = fmt.Errorf("value %v must be >= %v", v, floor)
		}
		return v, err
	}
}

func integer(raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	return v, nil
}

func duration(raw string) (time.Duration, error) {
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	return v, nil
}

func boolean(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool value %q", raw)
}

func configBindings(cfg *app.Config) []binding {
	positive := func(p func(string) (int, error)) func(string) (int, error) { return atLeast(1, p) }
	positiveDur := atLeast(time.Nanosecond, duration)
	nonNegativeDur := atLeast(time.Duration(0), duration)

	return []binding{
		bind(envGRPCAddr, &cfg.GRPCAddr, text),
		bind(envHTTPAddr, &cfg.HTTPAddr, text),
		bind(envMetricsAddr, &cfg.MetricsAddr, text),
		bind(envStorageDriver, &cfg.StorageDriver, lower),
		bind(envPostgresDSN, &cfg.PostgresDSN, text),
		bind(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate, boolean),
		bind(envRedisAddr, &cfg.RedisAddr, text),
		bind(envKafkaBrokers, &cfg.KafkaBrokers, text),
		bind(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup, text),
		bind(envBootstrapAdminID, &cfg.BootstrapAdminID, text),
		bind(envRequestTimeout, &cfg.RequestTimeout, nonNegativeDur),

		bind(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur),
		bind(envOutboxBatchSize, &cfg.OutboxBatchSize, positive(integer)),
		bind(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive(integer)),
		bind(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDur),
		bind(envOutboxMaxPending, &cfg.OutboxMaxPending, atLeast(0, integer)),
		bind(envBreakerFailures, &cfg.BreakerFailures, positive(integer)),
		bind(envBreakerOpenTimeout, &cfg.BreakerOpenTimeout, positiveDur),

		bind(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur),
		bind(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive(integer)),
	}
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Пустые значения не трогают поле, некорректные пропускаются с предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	for _, b := range configBindings(&cfg) {
		raw, ok := lookup(b.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := b.apply(raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", b.key, raw, err))
		}
	}
	return cfg, warnings
}

func main() {
	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"redis":          cfg.RedisAddr != "",
		"kafka":          cfg.KafkaBrokers != "",
	}).Info("запускаем магазин")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("магазин остановлен")
}
