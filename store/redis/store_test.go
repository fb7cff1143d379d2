//go:build integration

package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/blakecragen/cluster/store"
	redisstore "github.com/blakecragen/cluster/store/redis"
	"github.com/blakecragen/cluster/store/storetest"
)

var _ store.Store = (*redisstore.Store)(nil)

// setupClient starts a Redis container and returns a connected client.
func setupClient(t *testing.T) *goredis.Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}

	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConformance(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) store.Store {
		if err := client.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		return redisstore.New(client)
	})
}

func TestPing(t *testing.T) {
	s := redisstore.New(setupClient(t))
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
