// Package store provides ListStore backends: Postgres through pgx, SQLite
// through modernc.org/sqlite, and an in-memory map.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/emailclean/internal/config"
	"github.com/JonMunkholm/emailclean/internal/core"
)

// Pinger is implemented by stores that can report whether their backend is
// reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open builds the ListStore selected by cfg.Driver. The returned close
// function releases the backend and is safe to call once at shutdown.
func Open(ctx context.Context, cfg config.StoreConfig) (core.ListStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := OpenPostgres(ctx, cfg.URL, PoolOptions{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		pg := NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("list store ready", "driver", "postgres", "max_conns", cfg.MaxConns)
		return pg, pool.Close, nil

	case "sqlite":
		lite, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("list store ready", "driver", "sqlite", "path", cfg.SQLitePath)
		return lite, func() { lite.Close() }, nil

	case "memory":
		slog.Warn("list store is in-memory; lists are lost on restart")
		return NewMemory(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}
