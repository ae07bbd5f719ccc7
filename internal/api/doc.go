// Package api hosts the read-only HTTP server over ingested content.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/{videos|articles}/recent?limit= for the newest records.
//   - GET /v1/{videos|articles}/search?q=&limit= for title/summary matches.
package api
