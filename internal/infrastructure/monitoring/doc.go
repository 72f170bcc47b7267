/*
Package monitoring provides metrics collection.

# Overview

Collectors are registered against an explicit prometheus.Registerer rather
than the global default, so several servers (and tests) can live in one
process.

# Features

- HTTP request metrics (latency, throughput, size)
- Guest lifecycle metrics (started, active, exits by outcome, lifetime)
- Protocol message counts by direction and type
- VFS remote lookup and module load outcomes
- WebSocket connection gauge

*Metrics satisfies the VFS and module loader recorder interfaces, so a guest
reports into it directly.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	done := metrics.GuestStarted()
	defer done("exit")
*/
package monitoring
