/*
Package monitoring provides Prometheus metrics for the server.

# Overview

Metrics live in a dedicated registry so tests can create independent
collectors. The registry is served at /metrics.

# Metrics

- HTTP requests (count, latency, response size)
- Sessions (live, created, resumed)
- Script runs (by status, duration, in progress)
- Message queues (deltas enqueued, coalesced, dropped, messages flushed)
- WebSocket connections and messages
- Uptime plus Go runtime and process collectors

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordRunFinished("success", time.Since(start))
*/
package monitoring
