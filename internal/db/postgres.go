package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/config"
)

// PostgresSource adapts a *pgxpool.Pool to Source.
// pgxpool destroys sessions that come back closed, busy or inside a
// transaction, and dials replacements on demand.
type PostgresSource struct {
	Pool *pgxpool.Pool
}

// Acquire implements Source.
func (s PostgresSource) Acquire(ctx context.Context) (Conn, error) {
	c, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close implements Source.
func (s PostgresSource) Close() {
	s.Pool.Close()
}

// DSN renders the connection URL for cfg.
func DSN(cfg config.Database) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

// Open creates the service's Postgres pool. Sessions are dialed lazily, so
// an unreachable server surfaces on the first Acquire, not here.
func Open(ctx context.Context, cfg config.Database, log *zap.Logger) (*Pool, error) {
	pcfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = 0
	if cfg.IdleTimeout > 0 {
		pcfg.MaxConnIdleTime = cfg.IdleTimeout
	}
	pcfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	// Reduce planning overhead by caching prepared statements per connection.
	pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	pcfg.ConnConfig.StatementCacheCapacity = 64

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	log.Info("database pool configured",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
		zap.Int32("max_conns", cfg.MaxConns))

	return NewPool(PostgresSource{Pool: pool}, PoolOptions{
		Capacity:       int64(cfg.MaxConns),
		AcquireTimeout: cfg.AcquireTimeout,
		DrainTimeout:   cfg.DrainTimeout,
	}, log), nil
}
