package kv

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a client from a URL (redis://...) or an address.
func NewRedisStore(opts Options) (*RedisStore, error) {
	var ro *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("kv: parse redis url: %w", err)
		}
		ro = parsed
	} else {
		ro = &redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}
	}
	return &RedisStore{client: redis.NewClient(ro)}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(c *redis.Client) *RedisStore {
	return &RedisStore{client: c}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return s.client.IncrByFloat(ctx, key, delta).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) error {
	return s.client.SAdd(ctx, key, member).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	return s.client.SRem(ctx, key, member).Err()
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.client.SIsMember(ctx, key, member).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return s.client.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: hget %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) HDel(ctx context.Context, key, field string) (bool, error) {
	n, err := s.client.HDel(ctx, key, field).Result()
	return n > 0, err
}

func (s *RedisStore) HVals(ctx context.Context, key string) ([]string, error) {
	return s.client.HVals(ctx, key).Result()
}

func (s *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) ZRem(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	return n > 0, err
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int) ([]string, error) {
	by := &redis.ZRangeBy{Min: scoreBound(min), Max: scoreBound(max)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	return s.client.ZRangeByScore(ctx, key, by).Result()
}

func (s *RedisStore) Tx(ctx context.Context, fn func(p Pipe) error) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return fn(&redisPipe{ctx: ctx, p: p})
	})
	if err != nil {
		return fmt.Errorf("kv: tx: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func scoreBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type redisPipe struct {
	ctx context.Context
	p   redis.Pipeliner
}

func (r *redisPipe) Set(key, value string, ttl time.Duration) { r.p.Set(r.ctx, key, value, ttl) }
func (r *redisPipe) IncrByFloat(key string, delta float64)    { r.p.IncrByFloat(r.ctx, key, delta) }
func (r *redisPipe) Expire(key string, ttl time.Duration)     { r.p.Expire(r.ctx, key, ttl) }
func (r *redisPipe) HSet(key, field, value string)            { r.p.HSet(r.ctx, key, field, value) }
func (r *redisPipe) HDel(key, field string)                   { r.p.HDel(r.ctx, key, field) }
func (r *redisPipe) ZAdd(key, member string, score float64) {
	r.p.ZAdd(r.ctx, key, redis.Z{Score: score, Member: member})
}
func (r *redisPipe) ZRem(key, member string) { r.p.ZRem(r.ctx, key, member) }
func (r *redisPipe) SAdd(key, member string) { r.p.SAdd(r.ctx, key, member) }
func (r *redisPipe) SRem(key, member string) { r.p.SRem(r.ctx, key, member) }
