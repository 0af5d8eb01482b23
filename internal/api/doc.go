// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/crawler/start and the stop/pause/resume endpoints for task control.
//   - /api/repository/... for repository CRUD and artifact listing.
//   - GET /api/crawler/runs and /api/crawler/runs/{task_id}/sites for historical
//     progress reporting via the ProgressRepository interface.
package api
