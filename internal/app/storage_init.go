package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
)

type runtimeDependencies struct {
	uow             domain.UnitOfWork
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	ping            func(ctx context.Context) error
	closeFn         func() error
}

func (d *runtimeDependencies) Close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

type storageOpener func(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error)

var storageOpeners = map[string]storageOpener{
	StorageDriverMemory:   openMemoryStorage,
	StorageDriverPostgres: openPostgresStorage,
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	driver := cfg.storageDriver()
	rt, err := storageOpeners[driver](ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.WithField("driver", driver).Info("storage ready")
	return rt, nil
}

func openMemoryStorage(_ context.Context, _ Config, _ *log.Entry) (*runtimeDependencies, error) {
	store := memory.NewStore()
	return &runtimeDependencies{
		uow:             store,
		outboxRepo:      store.Outbox(),
		idempotencyRepo: store.Idempotency(),
		ping:            store.Ping,
	}, nil
}

func openPostgresStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	store, err := postgres.Open(ctx, strings.TrimSpace(cfg.PostgresDSN))
	if err != nil {
		return nil, fmt.Errorf("open postgres storage: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		if v, applied, err := store.MigrationStatus(ctx); err == nil {
			logger.WithFields(log.Fields{"version": v, "applied": applied}).Info("postgres schema is up to date")
		}
	}
	return &runtimeDependencies{
		uow:             store,
		outboxRepo:      store.Outbox(),
		idempotencyRepo: store.Idempotency(),
		ping:            store.Ping,
		closeFn:         store.Close,
	}, nil
}
