package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a client for a redis:// URL or a bare host:port.
func Connect(_ context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// RedisStore keeps documents under "<prefix>:<key>" and stores the name of
// the most recent one at prefix itself.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 keeps keys forever
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "forecaster:latest"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) docKey(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Put(ctx context.Context, key string, doc []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(key), doc, s.ttl)
		pipe.Set(ctx, s.prefix, s.docKey(key), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, s.docKey(key))
}

func (s *RedisStore) Latest(ctx context.Context) ([]byte, error) {
	ptr, err := s.client.Get(ctx, s.prefix).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", s.prefix, err)
	}
	return s.get(ctx, ptr)
}

func (s *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
