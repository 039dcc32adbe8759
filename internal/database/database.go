// Package database persists settings and transcription job history in
// Postgres.
package database

import (
	"context"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PoolOptions sizes the connection pool. The workload is a handful of
// settings reads plus one job row update per progress step, so the pool
// tracks the worker count rather than request concurrency.
type PoolOptions struct {
	MaxConns    int32 // 0 derives from Workers
	MinConns    int32
	MaxConnIdle time.Duration
	Workers     int
}

// DB wraps the Postgres pool used for settings and job history.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Connect(ctx context.Context, databaseURL string, opts PoolOptions, log zerolog.Logger) (*DB, error) {
	cfg, err := poolConfig(databaseURL, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Dur("max_conn_idle", cfg.MaxConnIdleTime).
		Msg("database connected")

	return &DB{Pool: pool, log: log}, nil
}

// poolConfig parses the DSN and applies pool sizing. Without an explicit
// MaxConns the pool gets one connection per worker plus headroom for the
// API and the purge loop.
func poolConfig(databaseURL string, opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = opts.MaxConns
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = int32(max(opts.Workers, 1)) + 3
	}
	cfg.MinConns = min(opts.MinConns, cfg.MaxConns)
	if opts.MaxConnIdle > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdle
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = "meetscribe"
	}
	return cfg, nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}
