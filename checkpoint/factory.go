package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/dagflow/config"
	"github.com/BaSui01/dagflow/internal/database"
	"github.com/BaSui01/dagflow/workflow"
)

// Store is a checkpoint store that owns a connection.
type Store interface {
	workflow.CheckpointStore
	Close() error
}

// NewStore builds the store selected by cfg.Backend.
func NewStore(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", "memory":
		return memoryStore{workflow.NewInMemoryCheckpointStore()}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("checkpoint store ready", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Addr))
		return NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL, logger), nil

	case "sqlite", "postgres", "mysql":
		pool, err := database.Open(cfg, logger)
		if err != nil {
			return nil, err
		}
		store := NewGormStore(pool.DB(), logger)
		if cfg.Database.AutoMigrate {
			if err := store.AutoMigrate(ctx); err != nil {
				_ = pool.Close()
				return nil, err
			}
		}
		logger.Info("checkpoint store ready", zap.String("backend", cfg.Backend))
		return &sqlStore{GormStore: store, pool: pool}, nil

	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

type memoryStore struct {
	*workflow.InMemoryCheckpointStore
}

func (memoryStore) Close() error { return nil }

type sqlStore struct {
	*GormStore
	pool *database.PoolManager
}

func (s *sqlStore) Close() error { return s.pool.Close() }
