package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies содержит хранилище снимков и связанные с ним проверки.
type runtimeDependencies struct {
	slot           domain.SnapshotSlot
	sweeper        domain.StaleSnapshotSweeper
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d runtimeDependencies) close(logger *log.Entry) {
	if d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies выбирает хранилище снимков по StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		slot := memory.NewSnapshotSlot()
		logger.Info("using in-memory cart snapshot storage")
		return runtimeDependencies{
			slot:           slot,
			sweeper:        slot,
			storageChecker: healthcheck.NewSnapshotSlotChecker("storage", slot),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, errors.New("postgres storage driver requires POSTGRES_DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("ensure postgres schema: %w", err)
			}
			logger.Info("postgres schema is up to date")
		} else {
			pending, err := store.PendingMigrations(ctx)
			if err != nil {
				logger.WithError(err).Warn("failed to inspect pending migrations")
			} else if len(pending) > 0 {
				logger.WithField("pending", pending).Warn("postgres schema has pending migrations")
			}
		}

		slot := postgres.NewSnapshotSlot(store)
		logger.Info("using postgres cart snapshot storage")
		return runtimeDependencies{
			slot:           slot,
			sweeper:        slot,
			storageChecker: healthcheck.NewPingChecker("postgres", store),
			closeFn:        store.Close,
		}, nil
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}
