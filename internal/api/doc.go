// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/queue and GET /v1/queue/{id} to enqueue URLs and inspect items.
//   - GET /v1/stats for open request and queue status counts.
//   - PUT /v1/auth/{domain} and GET /v1/auth to manage site credentials.
package api
