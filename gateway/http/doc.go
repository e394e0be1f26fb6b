// Package http serves the read-only inspection surface of the proxy.
//
// Routes:
//
//	GET /accessories         canonical snapshot as {"accessories":[...]}, 503 before the first load
//	GET /accessories/table   HTML table of unique id, type, human type and name
//	GET /health              aggregated component health, 503 when unhealthy
//	GET /metrics             Prometheus exposition
//	GET /status              named runtime status documents
//
// Handlers only read published snapshots and atomic counters. They never
// enqueue work for the bridge or block on it.
package http
