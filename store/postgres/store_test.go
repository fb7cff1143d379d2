//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/store"
	"github.com/blakecragen/cluster/store/postgres"
	"github.com/blakecragen/cluster/store/storetest"
)

var _ store.Store = (*postgres.Store)(nil)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("cluster_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := postgres.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := s.Pool().Exec(ctx, `TRUNCATE cluster_jobs, cluster_workers`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPriorityConstraint(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("bad", "default", "", job.PriorityLow)
	j.Priority = 7
	err := s.CreateJob(ctx, j)
	if !errors.Is(err, cluster.ErrInvariantViolated) {
		t.Fatalf("expected ErrInvariantViolated before reaching the table, got %v", err)
	}
}

func TestJobIDColumn(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("a", "default", "", job.DefaultPriority)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID.Compare(j.ID) != 0 {
		t.Errorf("id: want %s, got %s", j.ID, got.ID)
	}

	var raw string
	if err := s.Pool().QueryRow(ctx, `SELECT id FROM cluster_jobs WHERE id = $1`, j.ID).Scan(&raw); err != nil {
		t.Fatalf("select raw id: %v", err)
	}
	if raw != j.ID.String() {
		t.Errorf("stored id: want %q, got %q", j.ID.String(), raw)
	}

	foreign := id.New(id.Prefix("wrk"))
	if _, err := s.Pool().Exec(ctx, `UPDATE cluster_jobs SET id = $1 WHERE id = $2`, foreign, j.ID); err != nil {
		t.Fatalf("rewrite id: %v", err)
	}
	if _, err := s.ListJobs(ctx, job.ListOpts{}); err == nil {
		t.Error("expected error listing a row whose id is not a job id")
	}
}
