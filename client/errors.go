package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/blakecragen/cluster"
)

var (
	// ErrUnreachable wraps transport failures: the coordinator could not
	// be reached or did not answer in time.
	ErrUnreachable = errors.New("client: coordinator unreachable")

	// ErrRateLimited matches a 429 response.
	ErrRateLimited = errors.New("client: rate limited")
)

// StatusError is a non-2xx response. It matches the cluster sentinel the
// coordinator mapped to its status code, so callers can use errors.Is
// against the same taxonomy on both sides of the wire.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// Is reports whether target is the sentinel for e.Code.
func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusNotFound:
		return target == cluster.ErrJobNotFound || target == cluster.ErrWorkerNotFound
	case http.StatusForbidden:
		return target == cluster.ErrUnknownWorker
	case http.StatusConflict:
		return target == cluster.ErrConflictingState
	case http.StatusBadRequest:
		return target == cluster.ErrInvalidRequest
	case http.StatusBadGateway:
		return target == cluster.ErrArtifactUnavailable
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	}
	return false
}

func newStatusError(code int, body []byte) *StatusError {
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err != nil || msg.Message == "" {
		msg.Message = strings.TrimSpace(string(body))
	}
	return &StatusError{Code: code, Message: msg.Message}
}

// IsRetryable reports whether a failed call may succeed if repeated
// unchanged: transport failures, rate limiting, timeouts and gateway
// errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnreachable) {
		return true
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
