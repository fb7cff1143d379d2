// Package redis implements store.Store on Redis. Jobs and workers are
// stored as Hashes with a Set of IDs per entity for enumeration. Every
// compare-and-set runs under WATCH/MULTI so a concurrent writer aborts the
// transaction instead of overwriting it.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/worker"
)

// Compile-time interface checks.
var (
	_ job.Store    = (*Store)(nil)
	_ worker.Store = (*Store)(nil)
)

// maxWatchRetries bounds how often an optimistic transaction is retried
// after another client touched a watched key.
const maxWatchRetries = 16

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op: the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// watch runs fn as an optimistic transaction over keys, retrying when a
// watched key changed before EXEC.
func (s *Store) watch(ctx context.Context, op string, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range maxWatchRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		s.logger.Debug("redis transaction contended, retrying", slog.String("op", op))
	}
	return fmt.Errorf("cluster/redis: %s: %w: too much contention", op, cluster.ErrConflictingState)
}
