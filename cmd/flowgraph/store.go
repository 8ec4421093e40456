package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/favbox/flowgraph/checkpoint/memstore"
	"github.com/favbox/flowgraph/checkpoint/pgstore"
	"github.com/favbox/flowgraph/checkpoint/redisstore"
	"github.com/favbox/flowgraph/checkpoint/sqlstore"
	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/internal/config"
)

// openStore 按配置打开检查点存储，返回的 closer 在退出时释放连接
func openStore(ctx context.Context, cfg config.CheckpointConfig) (compose.CheckPointStore, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memstore.New(), func() {}, nil

	case config.BackendRedis:
		var opts []redisstore.Option
		if cfg.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(cfg.Prefix))
		}
		if cfg.TTL > 0 {
			opts = append(opts, redisstore.WithTTL(cfg.TTL))
		}
		store, client, err := redisstore.NewFromURL(cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return store, func() { _ = client.Close() }, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		var opts []pgstore.Option
		if cfg.Table != "" {
			opts = append(opts, pgstore.WithTableName(cfg.Table))
		}
		store := pgstore.New(pool, opts...)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case config.BackendSQL:
		var opts []sqlstore.Option
		if cfg.Table != "" {
			opts = append(opts, sqlstore.WithTableName(cfg.Table))
		}
		store, err := sqlstore.Open(cfg.Driver, cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
}
