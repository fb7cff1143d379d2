package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blakecragen/cluster/api"
	artmem "github.com/blakecragen/cluster/artifact/memory"
	"github.com/blakecragen/cluster/coordinator"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/nodes"
	"github.com/blakecragen/cluster/store/memory"
	"github.com/blakecragen/cluster/worker"
)

// ── Test Helpers ──────────────────────────────────────

type fixture struct {
	server    *api.Server
	coord     *coordinator.Coordinator
	artifacts *artmem.Store
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()
	arts := artmem.New()
	coord := coordinator.New(memory.New(), arts)
	return &fixture{
		server:    api.New(coord, opts...),
		coord:     coord,
		artifacts: arts,
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, body
}

func (f *fixture) postJSON(t *testing.T, path string, v any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return f.do(t, req)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return f.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func multipartRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (f *fixture) upload(t *testing.T, filename, content string, fields map[string]string) *job.Job {
	t.Helper()
	resp, body := f.do(t, multipartRequest(t, "/upload", filename, content, fields))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var j job.Job
	require.NoError(t, json.Unmarshal(body, &j))
	return &j
}

func (f *fixture) register(t *testing.T, workerID string, caps ...string) {
	t.Helper()
	resp, body := f.postJSON(t, "/register_worker", api.RegisterRequest{
		WorkerID:     workerID,
		Capabilities: caps,
		Hostname:     workerID,
		OS:           "linux",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func message(t *testing.T, body []byte) string {
	t.Helper()
	var m api.MessageResponse
	require.NoError(t, json.Unmarshal(body, &m))
	return m.Message
}

// ── Operator routes ───────────────────────────────────

func TestUpload(t *testing.T) {
	f := newFixture(t)

	j := f.upload(t, "scene.zip", "PK", map[string]string{"priority": "0", "strategy": "capability-match:gpu"})
	assert.Equal(t, job.StatePending, j.State)
	assert.Equal(t, job.PriorityHigh, j.Priority)
	assert.Equal(t, "capability-match:gpu", j.StrategyName)
	assert.True(t, strings.HasPrefix(j.InputRef, "inputs/scene_"), j.InputRef)
	assert.Equal(t, 1, f.artifacts.Len())
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		want     int
	}{
		{"no file", "", nil, http.StatusBadRequest},
		{"bad priority", "a.txt", map[string]string{"priority": "urgent"}, http.StatusBadRequest},
		{"priority out of range", "a.txt", map[string]string{"priority": "7"}, http.StatusBadRequest},
		{"unknown strategy", "a.txt", map[string]string{"strategy": "fastest"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, multipartRequest(t, "/upload", tt.filename, "x", tt.fields))
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, message(t, body))
		})
	}
	assert.Equal(t, 0, f.artifacts.Len())
}

func TestUpload_ArtifactStoreDown(t *testing.T) {
	f := newFixture(t)
	f.artifacts.SetFailing(true)

	resp, _ := f.do(t, multipartRequest(t, "/upload", "a.txt", "x", nil))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	_, body := f.get(t, "/jobs")
	var jobs []job.Job
	require.NoError(t, json.Unmarshal(body, &jobs))
	assert.Empty(t, jobs)
}

func TestJobsAndQueue(t *testing.T) {
	f := newFixture(t)
	high := f.upload(t, "a.txt", "a", map[string]string{"priority": "0"})
	f.upload(t, "b.txt", "b", map[string]string{"priority": "2"})

	resp, body := f.get(t, "/jobs?state=pending")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []job.Job
	require.NoError(t, json.Unmarshal(body, &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, high.ID.String(), jobs[0].ID.String(), "high priority first")

	resp, _ = f.get(t, "/jobs?state=sleeping")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.get(t, "/queue")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q api.QueueResponse
	require.NoError(t, json.Unmarshal(body, &q))
	assert.Len(t, q.Prio0, 1)
	assert.Empty(t, q.Prio1)
	assert.Len(t, q.Prio2, 1)

	resp, body = f.get(t, "/jobs/"+high.ID.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got job.Job
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "a.txt", got.Name)

	resp, _ = f.get(t, "/jobs/not-a-job")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkers(t *testing.T) {
	f := newFixture(t)
	f.register(t, "pi-1", "linux/arm64")

	resp, body := f.get(t, "/workers")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var workers []map[string]any
	require.NoError(t, json.Unmarshal(body, &workers))
	require.Len(t, workers, 1)
	assert.Equal(t, "pi-1", workers[0]["hostname"])
	assert.Equal(t, string(worker.StatusOnline), workers[0]["status"])
	assert.Contains(t, workers[0], "last_heartbeat")

	resp, _ = f.get(t, "/workers?window=soon")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodDelete, "/workers/pi-1", nil)
	resp, _ = f.do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, httptest.NewRequest(http.MethodDelete, "/workers/pi-1", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNodes(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/nodes")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	f = newFixture(t, api.WithNodes(staticNodes{{Name: "pi-1", Status: nodes.StatusReady, Role: "worker"}}))
	_, body = f.get(t, "/nodes")
	var got []nodes.Node
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "pi-1", got[0].Name)
}

type staticNodes []nodes.Node

func (s staticNodes) List(context.Context) ([]nodes.Node, error) { return s, nil }

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h api.HealthResponse
	require.NoError(t, json.Unmarshal(body, &h))
	assert.True(t, h.Store)
}

func TestDeleteAndPurge(t *testing.T) {
	f := newFixture(t)
	f.register(t, "w1")
	j := f.upload(t, "a.txt", "a", nil)
	_, err := f.coord.DispatchOnce(context.Background())
	require.NoError(t, err)

	resp, body := f.postJSON(t, "/delete_job/"+j.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "assigned job needs force")
	assert.NotEmpty(t, message(t, body))

	resp, body = f.postJSON(t, "/delete_job/"+j.ID.String()+"?force=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, message(t, body), "deleted")

	resp, _ = f.postJSON(t, "/delete_job/"+j.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.upload(t, "b.txt", "b", nil)
	f.upload(t, "c.txt", "c", nil)
	resp, body = f.postJSON(t, "/purge_all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p api.PurgeResponse
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, 2, p.JobsDeleted)
}

// ── Agent routes and the full round trip ─────────────

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "w1", "linux/amd64")
	submitted := f.upload(t, "notes.txt", "hello", nil)

	// Nothing assigned before dispatch runs.
	resp, body := f.postJSON(t, "/claim_job", api.WorkerRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.NoJobsMessage, message(t, body))

	_, err := f.coord.DispatchOnce(ctx)
	require.NoError(t, err)

	resp, body = f.postJSON(t, "/claim_job", api.WorkerRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claimed job.Job
	require.NoError(t, json.Unmarshal(body, &claimed))
	require.Equal(t, submitted.ID.String(), claimed.ID.String())
	assert.Equal(t, job.StateAssigned, claimed.State)

	resp, _ = f.postJSON(t, "/jobs/"+claimed.ID.String()+"/start", api.WorkerRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.get(t, "/jobs/"+claimed.ID.String()+"/input?worker_id=w1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))

	// Results are not downloadable before completion.
	resp, _ = f.get(t, "/download_result/"+claimed.ID.String())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, multipartRequest(t, "/upload_result/"+claimed.ID.String(), "notes.txt", "HELLO",
		map[string]string{"worker_id": "w1"}))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = f.get(t, "/download_result/"+claimed.ID.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HELLO", string(body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment; filename=")

	resp, _ = f.postJSON(t, "/mark_collected/"+claimed.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := f.coord.Job(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCollected, got.State)
	assert.NotNil(t, got.CollectedAt)

	// Collecting twice conflicts.
	resp, _ = f.postJSON(t, "/mark_collected/"+claimed.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "w1")
	j := f.upload(t, "a.txt", "a", nil)
	_, err := f.coord.DispatchOnce(ctx)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  api.ReportRequest
		want int
	}{
		{"unknown worker", api.ReportRequest{WorkerID: "ghost", Error: "boom"}, http.StatusForbidden},
		{"both outcomes", api.ReportRequest{WorkerID: "w1", OutputRef: "results/x", Error: "boom"}, http.StatusBadRequest},
		{"failure", api.ReportRequest{WorkerID: "w1", Error: "exit status 1"}, http.StatusOK},
		{"duplicate", api.ReportRequest{WorkerID: "w1", Error: "exit status 1"}, http.StatusConflict},
	}
	for _, tt := range tests {
		resp, body := f.postJSON(t, "/report/"+j.ID.String(), tt.req)
		assert.Equal(t, tt.want, resp.StatusCode, "%s: %s", tt.name, body)
	}

	got, err := f.coord.Job(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, got.State)
	assert.Equal(t, "exit status 1", got.Error)
}

func TestHeartbeat_UnknownWorker(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.postJSON(t, "/heartbeat", api.WorkerRequest{WorkerID: "ghost"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.postJSON(t, "/heartbeat", api.WorkerRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.register(t, "w1")
	resp, body := f.postJSON(t, "/heartbeat", api.WorkerRequest{WorkerID: "w1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", message(t, body))
}

func TestRegister_ReturnsHeartbeatInterval(t *testing.T) {
	f := newFixture(t)
	resp, body := f.postJSON(t, "/register_worker", api.RegisterRequest{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var r api.RegisterResponse
	require.NoError(t, json.Unmarshal(body, &r))
	assert.Equal(t, "w1", r.WorkerID)
	d, err := time.ParseDuration(r.HeartbeatInterval)
	require.NoError(t, err)
	assert.Equal(t, worker.DefaultWindow/3, d)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, api.WithRateLimit(0.001, 2))
	f.register(t, "w1")

	resp, _ := f.postJSON(t, "/heartbeat", api.WorkerRequest{WorkerID: "w1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.postJSON(t, "/heartbeat", api.WorkerRequest{WorkerID: "w1"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, message(t, body))

	// Buckets are per worker.
	f.register(t, "w2")
}

func TestRateLimit_UnknownWorkersHoldNoBucket(t *testing.T) {
	f := newFixture(t, api.WithRateLimit(0.001, 1))

	// Each attempt from an unregistered id is rejected as unknown, never
	// as rate limited: its bucket is dropped with the rejection.
	for i := 0; i < 3; i++ {
		resp, _ := f.postJSON(t, "/heartbeat", api.WorkerRequest{WorkerID: "ghost"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "attempt %d", i)
		resp, _ = f.postJSON(t, "/claim_job", api.WorkerRequest{WorkerID: "ghost"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "attempt %d", i)
	}

	// Registered workers keep their bucket.
	f.register(t, "w1")
	resp, _ := f.postJSON(t, "/heartbeat", api.WorkerRequest{WorkerID: "w1"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
