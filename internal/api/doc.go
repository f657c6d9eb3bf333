// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/ledger for the orchestrator's date ledger.
//   - GET /v1/queue for delivery queue depths.
package api
