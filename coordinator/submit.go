package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/artifact"
	"github.com/blakecragen/cluster/job"
)

// SubmitRequest describes a new job. Input, when set, is uploaded to the
// inputs bucket before the job record exists; otherwise InputRef may name
// an object that is already stored.
type SubmitRequest struct {
	// Name is a display name, usually the uploaded file name.
	Name string
	// Strategy is "name" or "name:tag1,tag2". Empty uses the default.
	Strategy string
	// Priority is 0 (high) to 2 (low). Use job.DefaultPriority when the
	// caller has no preference.
	Priority int

	InputRef  string
	Input     io.Reader
	InputSize int64
}

// Submit validates and persists a PENDING job, then nudges the dispatcher.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (j *job.Job, err error) {
	ctx, span := c.startSpan(ctx, "cluster.submit",
		attribute.String("cluster.job.name", req.Name),
		attribute.String("cluster.strategy", req.Strategy),
	)
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(req.Strategy)
	if name == "" {
		name = c.defaultStrategy
	}
	if _, err := c.strategies.Lookup(name); err != nil {
		return nil, err
	}
	if req.Priority < job.PriorityHigh || req.Priority > job.PriorityLow {
		return nil, fmt.Errorf("%w: priority must be between %d and %d",
			cluster.ErrInvalidRequest, job.PriorityHigh, job.PriorityLow)
	}

	now := c.now()
	inputRef := req.InputRef
	var uploaded artifact.Ref
	if req.Input != nil {
		if c.artifacts == nil {
			return nil, fmt.Errorf("%w: no artifact store configured", cluster.ErrArtifactUnavailable)
		}
		uploaded = artifact.InputRef(req.Name, now)
		if err := c.artifacts.Put(ctx, uploaded, req.Input, req.InputSize, artifact.ContentType(req.Name)); err != nil {
			return nil, err
		}
		inputRef = uploaded.String()
	} else if inputRef != "" {
		if _, err := artifact.ParseRef(inputRef); err != nil {
			return nil, fmt.Errorf("%w: %w", cluster.ErrInvalidRequest, err)
		}
	}

	j = job.New(req.Name, name, inputRef, req.Priority)
	j.CreatedAt, j.UpdatedAt = now, now
	if err := c.store.CreateJob(ctx, j); err != nil {
		if !uploaded.IsZero() {
			c.discardArtifact(ctx, uploaded)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("cluster.job.id", j.ID.String()))

	c.extensions.EmitJobSubmitted(ctx, j)
	c.triggerDispatch()
	return j, nil
}

// discardArtifact removes an object best-effort.
func (c *Coordinator) discardArtifact(ctx context.Context, ref artifact.Ref) {
	if c.artifacts == nil || ref.IsZero() {
		return
	}
	if err := c.artifacts.Delete(ctx, ref); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("failed to delete artifact",
			slog.String("ref", ref.String()),
			slog.String("error", err.Error()),
		)
	}
}
