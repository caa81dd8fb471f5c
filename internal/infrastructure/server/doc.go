// Package server assembles the process: configuration, cache backend,
// script source and watcher, session manager, gin router and the
// WebSocket endpoint.
//
// Routes:
//
//	GET /          service info
//	GET /health    health and metric snapshot
//	GET /sessions  live sessions
//	GET /stream    WebSocket stream (?session=<id> resumes)
//	GET /metrics   Prometheus exposition
//
// Shutdown order: stop accepting requests, close WebSocket connections,
// close sessions, close the cache, flush spans.
package server
