package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/blakecragen/cluster/api"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
)

// Register announces a worker. Registration is idempotent.
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (api.RegisterResponse, error) {
	var resp api.RegisterResponse
	err := c.do(ctx, fiber.MethodPost, "/register_worker", nil, req, &resp)
	return resp, err
}

// Heartbeat reports that workerID is alive.
func (c *Client) Heartbeat(ctx context.Context, workerID string) error {
	return c.do(ctx, fiber.MethodPost, "/heartbeat", nil, api.WorkerRequest{WorkerID: workerID}, nil)
}

// Claim returns the job assigned to workerID, or nil when there is none.
func (c *Client) Claim(ctx context.Context, workerID string) (*job.Job, error) {
	a, err := c.request(ctx, fiber.MethodPost, "/claim_job", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.send(a.JSON(api.WorkerRequest{WorkerID: workerID}), nil)
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("client: decode claim: %w", err)
	}
	if j.ID.IsNil() {
		return nil, nil
	}
	return &j, nil
}

// Start acknowledges that workerID began executing jobID.
func (c *Client) Start(ctx context.Context, jobID id.JobID, workerID string) (*job.Job, error) {
	var j job.Job
	err := c.do(ctx, fiber.MethodPost, "/jobs/"+jobID.String()+"/start", nil, api.WorkerRequest{WorkerID: workerID}, &j)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Input downloads the input of a job held by workerID. It returns the
// content and the original object name.
func (c *Client) Input(ctx context.Context, jobID id.JobID, workerID string) ([]byte, string, error) {
	return c.download(ctx, "/jobs/"+jobID.String()+"/input", url.Values{"worker_id": {workerID}})
}

// UploadResult uploads the output of jobID. The coordinator stores it and
// completes the job in one call.
func (c *Client) UploadResult(ctx context.Context, jobID id.JobID, workerID, name string, content []byte) (*job.Job, error) {
	a, err := c.request(ctx, fiber.MethodPost, "/upload_result/"+jobID.String(), nil)
	if err != nil {
		return nil, err
	}
	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("worker_id", workerID)
	a.FileData(&fiber.FormFile{Fieldname: "file", Name: name, Content: content}).MultipartForm(args)

	var j job.Job
	if _, err := c.send(a, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ReportFailure marks jobID failed with msg.
func (c *Client) ReportFailure(ctx context.Context, jobID id.JobID, workerID, msg string) (*job.Job, error) {
	return c.report(ctx, jobID, api.ReportRequest{WorkerID: workerID, Error: msg})
}

// ReportOutput completes jobID with an output already in the artifact
// store.
func (c *Client) ReportOutput(ctx context.Context, jobID id.JobID, workerID, outputRef string) (*job.Job, error) {
	return c.report(ctx, jobID, api.ReportRequest{WorkerID: workerID, OutputRef: outputRef})
}

func (c *Client) report(ctx context.Context, jobID id.JobID, req api.ReportRequest) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, fiber.MethodPost, "/report/"+jobID.String(), nil, req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
