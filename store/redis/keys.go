package redis

// Redis key naming conventions. All keys are prefixed with "cluster:" to
// avoid collisions with other tenants of the same database.

const keyPrefix = "cluster:"

// ── Job keys ──

// jobKey returns the key for a job hash: cluster:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Worker keys ──

// workerKey returns the key for a worker hash: cluster:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"
