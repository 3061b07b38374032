/*
Package monitoring provides Prometheus metrics for the collaboration server.

# Overview

Metrics cover the HTTP surface, websocket connections, the session registry,
broadcast fan-out and the execution sandbox. NewMetrics builds its own
registry so the /metrics handler exposes only this process's collectors plus
the Go runtime and process collectors.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics, "python", "container")
	defer timer.Stop("success")
*/
package monitoring
