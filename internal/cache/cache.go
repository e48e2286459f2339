// Package cache keeps the most recent forecast so it can be served without
// running the pipeline again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/iyulab/threat-forecaster/internal/config"
)

// ErrNotFound is returned when nothing has been cached under a key.
var ErrNotFound = errors.New("forecast not cached")

// Store holds forecast documents as JSON.
type Store interface {
	Put(ctx context.Context, key string, doc []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Latest returns the most recently Put document.
	Latest(ctx context.Context) ([]byte, error)
}

// New creates the Store selected by cfg.Backend.
func New(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	ttl := time.Duration(cfg.TTL) * time.Second
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileStore(cfg.Path)
	case "redis":
		client, err := Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.RedisKey, ttl), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %q", cfg.Backend)
	}
}

// Close releases the resources held by s, such as a Redis connection pool.
// Stores without resources are left alone.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	latest string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), doc...)
	m.latest = key
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (m *MemoryStore) Latest(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	key := m.latest
	m.mu.RUnlock()
	if key == "" {
		return nil, ErrNotFound
	}
	return m.Get(ctx, key)
}
