// Package api serves the coordinator over HTTP with Fiber.
//
// Three groups of routes share one app:
//
//   - the dashboard contract: GET /nodes, GET /workers, POST /delete_job/:id,
//     POST /mark_collected/:id and GET /download_result/:id;
//   - operator routes: POST /upload, GET /jobs, GET /jobs/:id, GET /queue,
//     GET /healthz and POST /purge_all;
//   - agent routes: POST /register_worker, POST /heartbeat, POST /claim_job,
//     POST /jobs/:id/start, GET /jobs/:id/input, POST /upload_result/:id and
//     POST /report/:id.
//
// Every error body is {"message": "..."}; the status code is derived from
// the cluster sentinel errors. Agent routes are rate limited per worker.
package api
