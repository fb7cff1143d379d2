package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/blakecragen/cluster"
)

// errRateLimited is returned when a worker exceeds its request budget.
var errRateLimited = fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case cluster.IsNotFound(err):
		return fiber.StatusNotFound
	case errors.Is(err, cluster.ErrUnknownWorker):
		return fiber.StatusForbidden
	case errors.Is(err, cluster.ErrConflictingState),
		errors.Is(err, cluster.ErrInvalidTransition),
		errors.Is(err, cluster.ErrJobNotTerminal),
		errors.Is(err, cluster.ErrResultNotAvailable),
		errors.Is(err, cluster.ErrJobAlreadyExists):
		return fiber.StatusConflict
	case errors.Is(err, cluster.ErrArtifactUnavailable):
		return fiber.StatusBadGateway
	case errors.Is(err, cluster.ErrUnknownStrategy),
		errors.Is(err, cluster.ErrInvalidRequest):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// localWorkerID is the fiber.Ctx local holding the worker id an agent
// request was rate limited under.
const localWorkerID = "cluster.worker_id"

// errorHandler renders every handler error as {"message": ...}. A request
// rejected because its worker is not registered releases that worker's
// token bucket, so arbitrary ids cannot grow the limiter.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	if errors.Is(err, cluster.ErrUnknownWorker) {
		if workerID, ok := c.Locals(localWorkerID).(string); ok {
			s.limiter.Forget(workerID)
		}
	}
	code := statusFor(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("error", msg),
		)
		msg = "internal server error"
	}
	return c.Status(code).JSON(MessageResponse{Message: msg})
}
