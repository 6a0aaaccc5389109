// Package postgres persists the raid engine's state in PostgreSQL using pgx v5.
// Row locks are taken with SELECT ... FOR UPDATE inside read-committed
// transactions.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/raidbot/internal/config"
)

// applicationName tags every session in pg_stat_activity.
const applicationName = "raidbot"

// Pool is the connection pool behind a Store. Its sessions carry the
// configured lock timeout, so a transaction blocked on another player's rows
// fails with a conflict instead of waiting indefinitely.
type Pool struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPool connects to the database described by cfg.
//
// Precondition: cfg passed config validation.
// Postcondition: Returns a pool that answered a ping, or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	for k, v := range sessionParams(cfg) {
		poolCfg.ConnConfig.RuntimeParams[k] = v
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{pool: pool, lockTimeout: cfg.LockTimeout}, nil
}

// sessionParams returns the runtime parameters set on every connection.
// A zero lock timeout keeps the server default of waiting forever.
func sessionParams(cfg config.DatabaseConfig) map[string]string {
	params := map[string]string{"application_name": applicationName}
	if cfg.LockTimeout > 0 {
		params["lock_timeout"] = strconv.FormatInt(cfg.LockTimeout.Milliseconds(), 10)
	}
	return params
}

// Health pings the database within timeout. The gameserver runs it
// periodically and logs failures.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// LockTimeout reports how long a row lock may be waited for; zero is no limit.
func (p *Pool) LockTimeout() time.Duration {
	return p.lockTimeout
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
