package api

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/artifact"
	"github.com/blakecragen/cluster/coordinator"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
)

func (s *Server) listNodes(c *fiber.Ctx) error {
	all, err := s.nodes.List(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(all)
}

func (s *Server) listWorkers(c *fiber.Ctx) error {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: window must be a positive duration such as 30s", cluster.ErrInvalidRequest)
		}
		window = d
	}
	workers, err := s.coord.Workers(c.UserContext(), window)
	if err != nil {
		return err
	}
	return c.JSON(workers)
}

func (s *Server) removeWorker(c *fiber.Ctx) error {
	workerID := c.Params("id")
	if err := s.coord.RemoveWorker(c.UserContext(), workerID); err != nil {
		return err
	}
	s.limiter.Forget(workerID)
	return c.JSON(MessageResponse{Message: fmt.Sprintf("Worker %s removed.", workerID)})
}

func (s *Server) deleteJob(c *fiber.Ctx) error {
	jobID, err := parseJobID(c)
	if err != nil {
		return err
	}
	if _, err := s.coord.DeleteJob(c.UserContext(), jobID, c.QueryBool("force")); err != nil {
		return err
	}
	return c.JSON(MessageResponse{Message: fmt.Sprintf("Job %s deleted.", jobID)})
}

func (s *Server) markCollected(c *fiber.Ctx) error {
	jobID, err := parseJobID(c)
	if err != nil {
		return err
	}
	if _, err := s.coord.MarkCollected(c.UserContext(), jobID); err != nil {
		return err
	}
	return c.JSON(MessageResponse{Message: fmt.Sprintf("Job %s marked as collected.", jobID)})
}

func (s *Server) downloadResult(c *fiber.Ctx) error {
	jobID, err := parseJobID(c)
	if err != nil {
		return err
	}
	rc, info, j, err := s.coord.OpenResult(c.UserContext(), jobID)
	if err != nil {
		return err
	}
	return sendObject(c, rc, info, j.OutputRef)
}

func (s *Server) upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: no file provided", cluster.ErrInvalidRequest)
	}

	priority := job.DefaultPriority
	if raw := c.FormValue("priority"); raw != "" {
		p, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return fmt.Errorf("%w: priority must be 0, 1, or 2", cluster.ErrInvalidRequest)
		}
		priority = p
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("%w: read upload: %w", cluster.ErrInvalidRequest, err)
	}
	defer f.Close()

	j, err := s.coord.Submit(c.UserContext(), coordinator.SubmitRequest{
		Name:      fh.Filename,
		Strategy:  c.FormValue("strategy"),
		Priority:  priority,
		Input:     f,
		InputSize: fh.Size,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(j)
}

func (s *Server) listJobs(c *fiber.Ctx) error {
	var opts job.ListOpts
	if raw := c.Query("state"); raw != "" {
		st := job.State(strings.ToUpper(raw))
		if !st.Valid() {
			return fmt.Errorf("%w: unknown state %q", cluster.ErrInvalidRequest, raw)
		}
		opts.State = st
	}
	opts.Worker = c.Query("worker")
	opts.Limit = c.QueryInt("limit")

	jobs, err := s.coord.Jobs(c.UserContext(), opts)
	if err != nil {
		return err
	}
	return c.JSON(jobs)
}

func (s *Server) getJob(c *fiber.Ctx) error {
	jobID, err := parseJobID(c)
	if err != nil {
		return err
	}
	j, err := s.coord.Job(c.UserContext(), jobID)
	if err != nil {
		return err
	}
	return c.JSON(j)
}

func (s *Server) queue(c *fiber.Ctx) error {
	pending, err := s.coord.Jobs(c.UserContext(), job.ListOpts{State: job.StatePending})
	if err != nil {
		return err
	}
	resp := QueueResponse{Prio0: []*job.Job{}, Prio1: []*job.Job{}, Prio2: []*job.Job{}}
	for _, j := range pending {
		switch j.Priority {
		case job.PriorityHigh:
			resp.Prio0 = append(resp.Prio0, j)
		case job.PriorityNormal:
			resp.Prio1 = append(resp.Prio1, j)
		default:
			resp.Prio2 = append(resp.Prio2, j)
		}
	}
	return c.JSON(resp)
}

func (s *Server) healthz(c *fiber.Ctx) error {
	resp := HealthResponse{Server: s.hostname, Store: true, Time: time.Now().UTC()}
	if err := s.coord.Ping(c.UserContext()); err != nil {
		resp.Store = false
		resp.Error = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *Server) purgeAll(c *fiber.Ctx) error {
	n, err := s.coord.Purge(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(PurgeResponse{Message: "All jobs purged.", JobsDeleted: n})
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// parseJobID reads the :id path parameter. A malformed id names no job.
func parseJobID(c *fiber.Ctx) (id.JobID, error) {
	raw := c.Params("id")
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		return id.Nil, fmt.Errorf("%w: %q", cluster.ErrJobNotFound, raw)
	}
	return jobID, nil
}

// sendObject streams an artifact as an attachment.
func sendObject(c *fiber.Ctx, rc io.ReadCloser, info artifact.Info, ref string) error {
	name := "result"
	if parsed, err := artifact.ParseRef(ref); err == nil {
		name = parsed.Name()
	}
	ct := info.ContentType
	if ct == "" {
		ct = artifact.ContentType(name)
	}
	c.Set(fiber.HeaderContentType, ct)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))

	size := -1
	if info.Size >= 0 {
		size = int(info.Size)
	}
	return c.SendStream(rc, size)
}
