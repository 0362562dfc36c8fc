// Package kv provides the key/value storage used by the budget ledger,
// access lists, relationship memories and chat history.
//
// Two implementations exist: RedisStore for durable shared state and
// LocalStore for a single process. The backend is chosen once by Open and
// callers only ever see the Store interface.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

// Store is the storage surface shared by both backends.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only when it does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HDel(ctx context.Context, key, field string) (bool, error)
	HVals(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key, member string) (bool, error)
	// ZRangeByScore returns members with min <= score <= max in ascending
	// score order. A limit <= 0 means no limit.
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int) ([]string, error)

	// Tx queues the writes issued on p inside fn and applies them
	// atomically. Nothing is applied when fn returns an error.
	Tx(ctx context.Context, fn func(p Pipe) error) error

	Close() error
}

// Pipe collects writes for Store.Tx.
type Pipe interface {
	Set(key, value string, ttl time.Duration)
	IncrByFloat(key string, delta float64)
	Expire(key string, ttl time.Duration)
	HSet(key, field, value string)
	HDel(key, field string)
	ZAdd(key, member string, score float64)
	ZRem(key, member string)
	SAdd(key, member string)
	SRem(key, member string)
}

// Options selects and configures a backend.
type Options struct {
	Backend  string // "redis", "memory" or "" (redis when an address is set)
	Addr     string
	URL      string
	Password string
	DB       int
}

// Open returns the configured backend. When Redis is requested but cannot be
// reached the process falls back to a LocalStore so the bot keeps working
// with non-durable state.
func Open(ctx context.Context, opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = "memory"
		if opts.Addr != "" || opts.URL != "" {
			backend = "redis"
		}
	}
	switch backend {
	case "memory", "local":
		return NewLocalStore(), nil
	case "redis":
		rs, err := NewRedisStore(opts)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			slog.Warn("Redis unavailable, using process-local store", "addr", opts.Addr, "error", err)
			_ = rs.Close()
			return NewLocalStore(), nil
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", backend)
	}
}
