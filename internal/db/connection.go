// Package db owns the Postgres pool and the schema of the update store.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/botdash-backend/internal/logging"
)

var log = logging.For("db")

// PoolOptions sizes the pool. Zero values fall back to the defaults below.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
	AppName  string
}

func Connect(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.MaxConns = 20
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MinConns = min(2, cfg.MaxConns)
	if opts.MinConns > 0 && opts.MinConns <= cfg.MaxConns {
		cfg.MinConns = opts.MinConns
	}
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute
	if opts.AppName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = opts.AppName
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return p, nil
}

// ServerVersion runs a round trip and returns the server's version string.
// The update payloads are jsonb, so anything older than 9.4 is refused.
func ServerVersion(ctx context.Context, p *pgxpool.Pool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var version string
	var num int
	err := p.QueryRow(ctx, "SELECT current_setting('server_version'), current_setting('server_version_num')::int").
		Scan(&version, &num)
	if err != nil {
		return "", fmt.Errorf("version query: %w", err)
	}
	if num < 90400 {
		return version, fmt.Errorf("postgres %s is too old, jsonb needs 9.4+", version)
	}
	log.WithField("version", version).Info("connection successful")
	return version, nil
}
