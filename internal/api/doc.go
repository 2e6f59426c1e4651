// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/auth/register and /api/auth/login to obtain a bearer token.
//   - POST /api/pages to store a URL and queue a scrape of it.
//   - GET /api/pages, /api/pages/{id} and /api/pages/{id}/links for results.
//   - GET /api/pages/queue/status and /api/pages/queue/recent for queue state.
package api
