package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend kinds accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// BackendConfig selects and configures a ledger store.
type BackendConfig struct {
	Kind string

	// Postgres: Pool is used when set, otherwise DatabaseURL is dialled.
	Pool        *pgxpool.Pool
	DatabaseURL string

	// Redis: RedisURL takes precedence over the discrete fields.
	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open returns the configured ledger and a function releasing whatever
// connections Open created.
func Open(ctx context.Context, cfg BackendConfig, logger *zap.Logger) (Ledger, func(), error) {
	noop := func() {}
	switch cfg.Kind {
	case "", BackendMemory:
		logger.Warn("using in-memory anchor ledger; anchors are lost on restart")
		return NewMemoryLedger(), noop, nil

	case BackendPostgres:
		pool := cfg.Pool
		closeFn := noop
		if pool == nil {
			p, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, nil, fmt.Errorf("connect to postgres: %w", err)
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return nil, nil, fmt.Errorf("ping postgres: %w", err)
			}
			pool, closeFn = p, p.Close
		}
		return NewPostgresLedger(pool, logger), closeFn, nil

	case BackendRedis:
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		if cfg.RedisURL != "" {
			parsed, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, nil, fmt.Errorf("parse redis url: %w", err)
			}
			opts = parsed
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisLedger(client, cfg.RedisPrefix, logger), func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Kind)
	}
}
