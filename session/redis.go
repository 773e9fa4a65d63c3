package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Prefix namespaces all keys. Default: "authgate:session:"
	Prefix string

	// SessionID scopes the store to one application session.
	// Default: a random UUID, so every process starts with an empty session.
	SessionID string

	// TTL applies to every key. Zero means keys never expire.
	TTL time.Duration

	// ScanCount is the COUNT hint for SCAN. Default: 100
	ScanCount int64
}

// RedisStore is a Store backed by Redis. Each key is stored as
// <prefix><session id>:<key>.
type RedisStore struct {
	client redis.UniversalClient
	config RedisConfig
	ns     string
	match  string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, config RedisConfig) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if config.Prefix == "" {
		config.Prefix = "authgate:session:"
	}
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 100
	}
	ns := config.Prefix + config.SessionID + ":"
	return &RedisStore{
		client: client,
		config: config,
		ns:     ns,
		match:  escapeGlob(ns) + "*",
	}, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// OpenRedis parses a redis:// URL, pings the server and returns a store.
func OpenRedis(ctx context.Context, url string, config RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(client, config)
}

// SessionID returns the session this store is scoped to.
func (s *RedisStore) SessionID() string {
	return s.config.SessionID
}

func (s *RedisStore) key(k string) string {
	return s.ns + k
}

// Get returns the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	return val, nil
}

// Set stores value with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), value, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Delete removes key. Idempotent.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// Keys lists the session's keys without the namespace, sorted.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	full, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, s.ns))
	}
	slices.Sort(keys)
	return keys, nil
}

// Clear deletes every key in the session namespace.
func (s *RedisStore) Clear(ctx context.Context) error {
	full, err := s.scan(ctx)
	if err != nil {
		return err
	}
	for batch := range slices.Chunk(full, 256) {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("session: redis clear: %w", err)
		}
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.match, s.config.ScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("session: redis scan: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Pinger = (*RedisStore)(nil)
)
