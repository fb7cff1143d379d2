package cluster

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("cluster: no store configured")
	ErrStoreClosed     = errors.New("cluster: store closed")
	ErrMigrationFailed = errors.New("cluster: migration failed")

	// Not found errors.
	ErrJobNotFound    = errors.New("cluster: job not found")
	ErrWorkerNotFound = errors.New("cluster: worker not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("cluster: job already exists")

	// ErrConflictingState is returned when a compare-and-set on a job or
	// worker record finds a state other than the one the caller expected.
	ErrConflictingState = errors.New("cluster: conflicting state")

	// State errors.
	ErrInvalidTransition  = errors.New("cluster: invalid state transition")
	ErrInvariantViolated  = errors.New("cluster: job invariant violated")
	ErrJobNotTerminal     = errors.New("cluster: job is not in a terminal state")
	ErrResultNotAvailable = errors.New("cluster: job has no result")

	// Worker errors.
	ErrUnknownWorker = errors.New("cluster: unknown worker")
	ErrWorkerLost    = errors.New("cluster: worker lost")

	// Dispatch errors.
	ErrUnknownStrategy = errors.New("cluster: unknown dispatch strategy")

	// ErrArtifactUnavailable wraps every failure of the artifact store.
	ErrArtifactUnavailable = errors.New("cluster: artifact store unavailable")

	// Request errors.
	ErrInvalidRequest = errors.New("cluster: invalid request")
)

// IsNotFound reports whether err refers to a missing job or worker.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrWorkerNotFound)
}
