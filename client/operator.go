package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/blakecragen/cluster/api"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
	"github.com/blakecragen/cluster/nodes"
	"github.com/blakecragen/cluster/worker"
)

// Upload is an operator job submission.
type Upload struct {
	Name     string
	Content  []byte
	Priority int
	Strategy string
}

// Submit uploads an input and creates a PENDING job.
func (c *Client) Submit(ctx context.Context, up Upload) (*job.Job, error) {
	a, err := c.request(ctx, fiber.MethodPost, "/upload", nil)
	if err != nil {
		return nil, err
	}
	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("priority", strconv.Itoa(up.Priority))
	if up.Strategy != "" {
		args.Set("strategy", up.Strategy)
	}
	a.FileData(&fiber.FormFile{Fieldname: "file", Name: up.Name, Content: up.Content}).MultipartForm(args)

	var j job.Job
	if _, err := c.send(a, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Jobs lists jobs, optionally filtered by state.
func (c *Client) Jobs(ctx context.Context, state job.State) ([]*job.Job, error) {
	var q url.Values
	if state != "" {
		q = url.Values{"state": {string(state)}}
	}
	var out []*job.Job
	err := c.do(ctx, fiber.MethodGet, "/jobs", q, nil, &out)
	return out, err
}

// Job fetches one job.
func (c *Client) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, fiber.MethodGet, "/jobs/"+jobID.String(), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Queue returns pending jobs grouped by priority.
func (c *Client) Queue(ctx context.Context) (api.QueueResponse, error) {
	var out api.QueueResponse
	err := c.do(ctx, fiber.MethodGet, "/queue", nil, nil, &out)
	return out, err
}

// Workers lists workers. A zero window uses the coordinator's default.
func (c *Client) Workers(ctx context.Context, window time.Duration) ([]worker.Record, error) {
	var q url.Values
	if window > 0 {
		q = url.Values{"window": {window.String()}}
	}
	var out []worker.Record
	err := c.do(ctx, fiber.MethodGet, "/workers", q, nil, &out)
	return out, err
}

// RemoveWorker deregisters a worker.
func (c *Client) RemoveWorker(ctx context.Context, workerID string) error {
	return c.do(ctx, fiber.MethodDelete, "/workers/"+url.PathEscape(workerID), nil, nil, nil)
}

// Nodes lists the orchestrator's nodes.
func (c *Client) Nodes(ctx context.Context) ([]nodes.Node, error) {
	var out []nodes.Node
	err := c.do(ctx, fiber.MethodGet, "/nodes", nil, nil, &out)
	return out, err
}

// DeleteJob deletes a terminal job, or any job when force is set.
func (c *Client) DeleteJob(ctx context.Context, jobID id.JobID, force bool) error {
	var q url.Values
	if force {
		q = url.Values{"force": {"true"}}
	}
	return c.do(ctx, fiber.MethodPost, "/delete_job/"+jobID.String(), q, nil, nil)
}

// MarkCollected moves a COMPLETED job to COLLECTED.
func (c *Client) MarkCollected(ctx context.Context, jobID id.JobID) error {
	return c.do(ctx, fiber.MethodPost, "/mark_collected/"+jobID.String(), nil, nil, nil)
}

// Result downloads a job's output and its file name.
func (c *Client) Result(ctx context.Context, jobID id.JobID) ([]byte, string, error) {
	return c.download(ctx, "/download_result/"+jobID.String(), nil)
}

// Purge deletes every job and returns how many were removed.
func (c *Client) Purge(ctx context.Context) (int, error) {
	var out api.PurgeResponse
	err := c.do(ctx, fiber.MethodPost, "/purge_all", nil, nil, &out)
	return out.JobsDeleted, err
}

// Health reports the coordinator's health. A 503 is returned as an error.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, fiber.MethodGet, "/healthz", nil, nil, &out)
	return out, err
}
