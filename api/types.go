package api

import (
	"time"

	"github.com/blakecragen/cluster/job"
)

// MessageResponse is the body of every error and of plain acknowledgements.
type MessageResponse struct {
	Message string `json:"message"`
}

// NoJobsMessage is returned by POST /claim_job when the worker holds no
// assigned job.
const NoJobsMessage = "No jobs available"

// RegisterRequest is the body of POST /register_worker.
type RegisterRequest struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	CPU          string   `json:"cpu"`
	Kernel       string   `json:"kernel"`
	IP           string   `json:"ip"`
	TaskRunner   string   `json:"task_runner"`
}

// RegisterResponse acknowledges a registration and tells the agent how
// often to heartbeat.
type RegisterResponse struct {
	WorkerID          string `json:"worker_id"`
	HeartbeatInterval string `json:"heartbeat_interval"`
}

// WorkerRequest is the body of agent calls that only name the worker.
type WorkerRequest struct {
	WorkerID string `json:"worker_id"`
}

// ReportRequest is the body of POST /report/:id.
type ReportRequest struct {
	WorkerID  string `json:"worker_id"`
	OutputRef string `json:"output_ref,omitempty"`
	Error     string `json:"error,omitempty"`
}

// QueueResponse groups pending jobs by priority, highest first.
type QueueResponse struct {
	Prio0 []*job.Job `json:"prio0"`
	Prio1 []*job.Job `json:"prio1"`
	Prio2 []*job.Job `json:"prio2"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Server string    `json:"server"`
	Store  bool      `json:"store"`
	Time   time.Time `json:"time"`
	Error  string    `json:"error,omitempty"`
}

// PurgeResponse is the body of POST /purge_all.
type PurgeResponse struct {
	Message     string `json:"message"`
	JobsDeleted int    `json:"jobs_deleted"`
}
