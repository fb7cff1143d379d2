package client_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/api"
	artmem "github.com/blakecragen/cluster/artifact/memory"
	"github.com/blakecragen/cluster/client"
	"github.com/blakecragen/cluster/coordinator"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/store/memory"
)

// serve starts a coordinator API on a loopback port and returns a client
// for it.
func serve(t *testing.T) (*client.Client, *coordinator.Coordinator) {
	t.Helper()
	coord := coordinator.New(memory.New(), artmem.New())
	srv := api.New(coord)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.App().Listener(ln) }()

	c := client.New("http://"+ln.Addr().String(), client.WithTimeout(5*time.Second))
	t.Cleanup(func() {
		c.Close()
		_ = srv.Shutdown(context.Background())
	})
	return c, coord
}

func TestRoundTrip(t *testing.T) {
	c, coord := serve(t)
	ctx := context.Background()

	reg, err := c.Register(ctx, api.RegisterRequest{
		WorkerID:     "pi-1",
		Capabilities: []string{"linux/arm64"},
		Hostname:     "pi",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi-1", reg.WorkerID)
	assert.NotEmpty(t, reg.HeartbeatInterval)
	require.NoError(t, c.Heartbeat(ctx, "pi-1"))

	none, err := c.Claim(ctx, "pi-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	submitted, err := c.Submit(ctx, client.Upload{
		Name:     "data.txt",
		Content:  []byte("hello"),
		Priority: job.PriorityHigh,
		Strategy: "capability-match:linux/arm64",
	})
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, submitted.State)
	assert.Equal(t, job.PriorityHigh, submitted.Priority)

	queue, err := c.Queue(ctx)
	require.NoError(t, err)
	assert.Len(t, queue.Prio0, 1)

	n, err := coord.DispatchOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	claimed, err := c.Claim(ctx, "pi-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, submitted.ID, claimed.ID)

	started, err := c.Start(ctx, claimed.ID, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, started.State)

	input, name, err := c.Input(ctx, claimed.ID, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(input))
	assert.Contains(t, name, "data_")

	done, err := c.UploadResult(ctx, claimed.ID, "pi-1", "out.txt", []byte("HELLO"))
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, done.State)

	result, name, err := c.Result(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(result))
	assert.Contains(t, name, "result_")

	require.NoError(t, c.MarkCollected(ctx, claimed.ID))
	got, err := c.Job(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCollected, got.State)

	workers, err := c.Workers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Empty(t, workers[0].CurrentJob)

	require.NoError(t, c.DeleteJob(ctx, claimed.ID, false))
	_, err = c.Job(ctx, claimed.ID)
	assert.ErrorIs(t, err, cluster.ErrJobNotFound)
}

func TestReportFailure(t *testing.T) {
	c, coord := serve(t)
	ctx := context.Background()

	_, err := c.Register(ctx, api.RegisterRequest{WorkerID: "w1"})
	require.NoError(t, err)
	_, err = c.Submit(ctx, client.Upload{Name: "in.txt", Content: []byte("x"), Priority: job.DefaultPriority})
	require.NoError(t, err)
	_, err = coord.DispatchOnce(ctx)
	require.NoError(t, err)

	claimed, err := c.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	failed, err := c.ReportFailure(ctx, claimed.ID, "w1", "exit status 1")
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, failed.State)
	assert.Equal(t, "exit status 1", failed.Error)

	_, err = c.ReportFailure(ctx, claimed.ID, "w1", "again")
	assert.ErrorIs(t, err, cluster.ErrConflictingState)

	jobs, err := c.Jobs(ctx, job.StateFailed)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	deleted, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestErrors(t *testing.T) {
	c, _ := serve(t)
	ctx := context.Background()

	err := c.Heartbeat(ctx, "ghost")
	assert.ErrorIs(t, err, cluster.ErrUnknownWorker)
	assert.False(t, client.IsRetryable(err))

	var se *client.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.NotEmpty(t, se.Message)

	_, err = c.Submit(ctx, client.Upload{Name: "in.txt", Content: []byte("x"), Priority: 7})
	assert.ErrorIs(t, err, cluster.ErrInvalidRequest)

	err = c.RemoveWorker(ctx, "ghost")
	assert.ErrorIs(t, err, cluster.ErrWorkerNotFound)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Store)
}

func TestUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := client.New("http://"+addr, client.WithTimeout(time.Second))
	defer c.Close()

	err = c.Heartbeat(context.Background(), "w1")
	assert.ErrorIs(t, err, client.ErrUnreachable)
	assert.True(t, client.IsRetryable(err))
}

func TestCancelledContext(t *testing.T) {
	c := client.New("http://127.0.0.1:1")
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Heartbeat(ctx, "w1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusConflict, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
	}
	for _, tt := range tests {
		err := &client.StatusError{Code: tt.code, Message: "x"}
		assert.Equal(t, tt.want, client.IsRetryable(err), "status %d", tt.code)
	}
	assert.False(t, client.IsRetryable(nil))
	assert.False(t, client.IsRetryable(errors.New("plain")))
	assert.ErrorIs(t, &client.StatusError{Code: http.StatusTooManyRequests}, client.ErrRateLimited)
	assert.ErrorIs(t, &client.StatusError{Code: http.StatusBadGateway}, cluster.ErrArtifactUnavailable)
}
