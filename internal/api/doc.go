// Package api hosts the status server that runs alongside a crawl. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for the live crawl counters.
//   - GET /v1/records and /v1/records/{fingerprint} for admitted records.
package api
