package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/coordinator"
	"github.com/blakecragen/cluster/worker"
)

func (s *Server) registerWorker(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %w", cluster.ErrInvalidRequest, err)
	}
	if err := s.allow(c, req.WorkerID); err != nil {
		return err
	}

	rec, err := s.coord.RegisterWorker(c.UserContext(), coordinator.RegisterRequest{
		WorkerID:     req.WorkerID,
		Capabilities: req.Capabilities,
		Info: worker.Info{
			Hostname:   req.Hostname,
			OS:         req.OS,
			CPU:        req.CPU,
			Kernel:     req.Kernel,
			IP:         firstNonEmpty(req.IP, c.IP()),
			TaskRunner: req.TaskRunner,
		},
	})
	if err != nil {
		return err
	}
	return c.JSON(RegisterResponse{
		WorkerID:          rec.ID,
		HeartbeatInterval: (s.coord.HeartbeatTimeout() / 3).String(),
	})
}

func (s *Server) heartbeat(c *fiber.Ctx) error {
	workerID, err := s.workerFromBody(c)
	if err != nil {
		return err
	}
	if err := s.coord.Heartbeat(c.UserContext(), workerID); err != nil {
		return err
	}
	return c.JSON(MessageResponse{Message: "ok"})
}

func (s *Server) claimJob(c *fiber.Ctx) error {
	workerID, err := s.workerFromBody(c)
	if err != nil {
		return err
	}
	j, err := s.coord.Claim(c.UserContext(), workerID)
	if err != nil {
		return err
	}
	if j == nil {
		return c.JSON(MessageResponse{Message: NoJobsMessage})
	}
	return c.JSON(j)
}

func (s *Server) startJob(c *fiber.Ctx) error {
	jobID, err := parseJobID(c)
	if err != nil {
		return err
	}
	workerID, err := s.workerFromBody(c)
	if err != nil {
		return err
	}
	j, err := s.coord.StartJob(c.UserContext(), jobID, workerID)
	if err != nil {
		return err
	}
	return c.JSON(j)
}

func (s *Server) jobInput(c *fiber.Ctx) error {
	jobID, err := parseJobID(c)
	if err != nil {
		return err
	}
	workerID := strings.TrimSpace(c.Query("worker_id"))
	if workerID == "" {
		return fmt.Errorf("%w: worker_id is required", cluster.ErrInvalidRequest)
	}
	if err := s.allow(c, workerID); err != nil {
		return err
	}
	rc, info, j, err := s.coord.OpenInput(c.UserContext(), jobID, workerID)
	if err != nil {
		return err
	}
	return sendObject(c, rc, info, j.InputRef)
}

func (s *Server) uploadResult(c *fiber.Ctx) error {
	jobID, err := parseJobID(c)
	if err != nil {
		return err
	}
	workerID := strings.TrimSpace(c.FormValue("worker_id"))
	if workerID == "" {
		return fmt.Errorf("%w: worker_id is required", cluster.ErrInvalidRequest)
	}
	if err := s.allow(c, workerID); err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: no file provided", cluster.ErrInvalidRequest)
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("%w: read upload: %w", cluster.ErrInvalidRequest, err)
	}
	defer f.Close()

	j, err := s.coord.UploadResult(c.UserContext(), jobID, workerID, fh.Filename, f, fh.Size)
	if err != nil {
		return err
	}
	return c.JSON(j)
}

func (s *Server) report(c *fiber.Ctx) error {
	jobID, err := parseJobID(c)
	if err != nil {
		return err
	}
	var req ReportRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %w", cluster.ErrInvalidRequest, err)
	}
	if err := s.allow(c, req.WorkerID); err != nil {
		return err
	}
	j, err := s.coord.Complete(c.UserContext(), coordinator.CompletionReport{
		JobID:     jobID,
		WorkerID:  req.WorkerID,
		OutputRef: req.OutputRef,
		Error:     req.Error,
	})
	if err != nil {
		return err
	}
	return c.JSON(j)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// workerFromBody parses a {"worker_id": ...} body and applies the rate
// limit.
func (s *Server) workerFromBody(c *fiber.Ctx) (string, error) {
	var req WorkerRequest
	if err := c.BodyParser(&req); err != nil {
		return "", fmt.Errorf("%w: %w", cluster.ErrInvalidRequest, err)
	}
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	if req.WorkerID == "" {
		return "", fmt.Errorf("%w: worker_id is required", cluster.ErrInvalidRequest)
	}
	if err := s.allow(c, req.WorkerID); err != nil {
		return "", err
	}
	return req.WorkerID, nil
}

// allow applies the rate limit and remembers workerID on the request, so
// the error handler can drop the bucket if the worker turns out to be
// unknown.
func (s *Server) allow(c *fiber.Ctx, workerID string) error {
	c.Locals(localWorkerID, workerID)
	if !s.limiter.Allow(workerID) {
		return errRateLimited
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
