// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to enqueue a job for a worker tag.
//   - GET /v1/jobs, /v1/jobs/{job_id} and /v1/jobs/{job_id}/results to follow
//     jobs through pending, processing and their terminal status.
package api
