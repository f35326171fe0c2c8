// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs for job submission, with status, events, and cancel
//     subroutes per job.
//   - GET /v1/sources/... for archive source health and performance.
//   - POST /v1/admin/sources/{source}/reset to force-close a breaker.
package api
