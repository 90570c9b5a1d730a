package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/config"
	"github.com/lalith-99/capyboard/internal/db"
	"github.com/lalith-99/capyboard/internal/repository"
	"github.com/lalith-99/capyboard/internal/repository/filestore"
	"github.com/lalith-99/capyboard/internal/repository/memory"
	"github.com/lalith-99/capyboard/internal/repository/postgres"
	"github.com/lalith-99/capyboard/internal/repository/redisstore"
	"github.com/lalith-99/capyboard/internal/repository/sqlite"
)

// backend is an opened record store plus whatever must be released with it.
type backend struct {
	repo    repository.RecordRepository
	health  func(ctx context.Context) error
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendFile:
		store, err := filestore.NewStore(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		return &backend{repo: store}, nil

	case config.BackendPostgres:
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return &backend{
			repo:    postgres.NewRecordStore(database.Pool(), logger),
			health:  database.Health,
			closers: []func(){database.Close},
		}, nil

	case config.BackendRedis:
		client, err := db.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		closeClient := func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis client", zap.Error(err))
			}
		}
		return &backend{
			repo:    redisstore.NewStore(client, cfg.RedisKey, logger),
			health:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
			closers: []func(){closeClient},
		}, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		closeStore := func() {
			if err := store.Close(); err != nil {
				logger.Warn("close sqlite", zap.Error(err))
			}
		}
		return &backend{repo: store, closers: []func(){closeStore}}, nil

	case config.BackendMemory:
		logger.Warn("using in-memory store; messages are lost on restart")
		return &backend{repo: memory.NewStore()}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
