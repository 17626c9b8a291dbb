// Package db opens the Postgres pool behind the task store and applies its
// schema migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver

	"docgen-backend/internal/retry"
	"docgen-backend/internal/shared/telemetry"
)

// Role names the kind of process holding the pool. Pool sizes follow it.
type Role string

const (
	RoleAPI     Role = "api"
	RoleWorker  Role = "worker"
	RoleLambda  Role = "lambda"
	RoleMigrate Role = "migrate"
)

// Options controls pool sizing and the startup connectivity check.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	PingAttempts    int
}

var openDB = sql.Open

// ErrNoDatabaseURL is returned when no connection string is configured.
var ErrNoDatabaseURL = errors.New("DATABASE_URL is empty")

// DetectRole returns RoleLambda inside AWS Lambda and fallback elsewhere.
func DetectRole(fallback Role) Role {
	if strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != "" {
		return RoleLambda
	}
	return fallback
}

// OptionsFor returns pool defaults for role.
func OptionsFor(role Role) Options {
	switch role {
	case RoleLambda:
		// one invocation at a time per instance; keep the footprint small
		return Options{MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxIdleTime: 30 * time.Second, ConnMaxLifetime: 15 * time.Minute, PingTimeout: 3 * time.Second, PingAttempts: 1}
	case RoleWorker:
		return Options{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxIdleTime: time.Minute, ConnMaxLifetime: 30 * time.Minute, PingTimeout: 5 * time.Second, PingAttempts: 5}
	case RoleMigrate:
		return Options{MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxIdleTime: 2 * time.Minute, ConnMaxLifetime: time.Hour, PingTimeout: 5 * time.Second, PingAttempts: 3}
	default:
		return Options{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxIdleTime: 2 * time.Minute, ConnMaxLifetime: time.Hour, PingTimeout: 5 * time.Second, PingAttempts: 3}
	}
}

var envOverrides = []struct {
	key   string
	apply func(o *Options, raw string) error
}{
	{"DB_MAX_OPEN_CONNS", func(o *Options, raw string) (err error) { o.MaxOpenConns, err = strconv.Atoi(raw); return }},
	{"DB_MAX_IDLE_CONNS", func(o *Options, raw string) (err error) { o.MaxIdleConns, err = strconv.Atoi(raw); return }},
	{"DB_CONN_MAX_LIFETIME", func(o *Options, raw string) (err error) { o.ConnMaxLifetime, err = time.ParseDuration(raw); return }},
	{"DB_CONN_MAX_IDLE_TIME", func(o *Options, raw string) (err error) { o.ConnMaxIdleTime, err = time.ParseDuration(raw); return }},
	{"DB_PING_TIMEOUT", func(o *Options, raw string) (err error) { o.PingTimeout, err = time.ParseDuration(raw); return }},
	{"DB_PING_ATTEMPTS", func(o *Options, raw string) (err error) { o.PingAttempts, err = strconv.Atoi(raw); return }},
}

// WithEnv returns o with any DB_* overrides from the environment applied.
// Unparseable values are logged and ignored.
func (o Options) WithEnv() Options {
	for _, ov := range envOverrides {
		raw := strings.TrimSpace(os.Getenv(ov.key))
		if raw == "" {
			continue
		}
		next := o
		if err := ov.apply(&next, raw); err != nil {
			telemetry.Warn("db.env_invalid", map[string]any{"key": ov.key, "error": err})
			continue
		}
		o = next
	}
	return o
}

// Open returns a pool for databaseURL once a ping succeeds. Failed pings are
// retried with a short backoff up to PingAttempts times.
func Open(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, ErrNoDatabaseURL
	}
	pool, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	configure(pool, opts)

	if err := ping(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	stats := pool.Stats()
	telemetry.Info("db.open", map[string]any{
		"max_open": stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
		"idle":     stats.Idle,
	})
	return pool, nil
}

func ping(ctx context.Context, pool *sql.DB, opts Options) error {
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempts := max(opts.PingAttempts, 1)

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := retry.Backoff(200*time.Millisecond, 2*time.Second, i-1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("ping database: %w", errors.Join(err, ctx.Err()))
			case <-time.After(wait):
			}
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err = pool.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		telemetry.Warn("db.ping_failed", map[string]any{"attempt": i + 1, "of": attempts, "error": err})
	}
	return fmt.Errorf("ping database: %w", err)
}

func configure(pool *sql.DB, opts Options) {
	pool.SetMaxOpenConns(positive(opts.MaxOpenConns, 10))
	pool.SetMaxIdleConns(positive(opts.MaxIdleConns, 5))
	if opts.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(opts.ConnMaxLifetime)
	} else {
		pool.SetConnMaxLifetime(time.Hour)
	}
	if opts.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

func positive(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// shared is the pool reused across warm Lambda invocations.
var shared struct {
	mu   sync.Mutex
	pool *sql.DB
}

// Shared returns a process-wide pool, opening it on first use. A failed open
// is not cached, so the next call tries again.
func Shared(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.pool != nil {
		return shared.pool, nil
	}
	pool, err := Open(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	shared.pool = pool
	return pool, nil
}
