//go:build integration

package minio_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/artifact"
	"github.com/blakecragen/cluster/artifact/minio"
)

func setupStore(t *testing.T) *minio.Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	endpoint, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	s, err := minio.New(endpoint, ctr.Username, ctr.Password, false)
	if err != nil {
		t.Fatalf("minio.New: %v", err)
	}
	if err := s.EnsureBuckets(ctx); err != nil {
		t.Fatalf("EnsureBuckets: %v", err)
	}
	// Second call finds the buckets already present.
	if err := s.EnsureBuckets(ctx); err != nil {
		t.Fatalf("EnsureBuckets again: %v", err)
	}
	return s
}

func TestMinio_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	ref := artifact.Ref{Bucket: artifact.BucketResults, Key: "result_job_x_1.txt"}

	body := "Processed by task_runner_default\n\nhello"
	if err := s.Put(ctx, ref, strings.NewReader(body), int64(len(body)), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, info, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != body {
		t.Errorf("body mismatch: %q", data)
	}
	if info.Size != int64(len(body)) || info.ContentType != "text/plain" {
		t.Errorf("info: %+v", info)
	}

	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if _, _, err := s.Get(ctx, ref); !errors.Is(err, cluster.ErrArtifactUnavailable) {
		t.Errorf("Get after delete: want ErrArtifactUnavailable, got %v", err)
	}
}
