/*
Package monitoring provides Prometheus metrics for the broker.

# Overview

Each Metrics value owns its registry, so several servers (or brokers in
tests) can coexist in one process without duplicate registration panics.

# Metrics

- HTTP request metrics (count, latency, response size)
- Terminal sessions: active, spawned, spawn failures by reason, spawn latency
- Terminations by outcome (exit, error)
- Terminal traffic in bytes, by direction
- Control messages dropped because the session was unknown
- Stream connections and messages
- Uptime

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics)
	// ... start the shell ...
	timer.Stop("")
*/
package monitoring
