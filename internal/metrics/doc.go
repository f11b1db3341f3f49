/*
Package metrics provides Prometheus metrics for the streaming caches.

# Overview

Collector implements types.MetricsCollector. Pass it as the Metrics option of
a FileCache or MessageCache and every cache event is exported, labelled with
the cache's Name.

Architecture

	┌─────────────┐
	│ FileCache / │
	│MessageCache │
	└──────┬──────┘
	       │ types.MetricsCollector
	┌──────▼──────┐
	│  Collector  │
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │ HTTP Endpoints │
	│   Registry   │         │  /metrics      │
	│              │         │  /health       │
	│ - Counters   │         │  /debug/caches │
	│ - Histograms │         └────────────────┘
	│ - Gauges     │
	└──────────────┘

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "streamcache",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

	c := cache.NewFileCache(transport, cache.FileOptions{
		Name:    "video",
		Metrics: collector,
	})

# Exported Metrics

Connection metrics:
  - connections_opened_total{cache}
  - connections_closed_total{cache,reason}: reason is completed, superseded,
    error, closed or failed
  - active_connections{cache}
  - connection_throughput_bytes_per_second{cache}

Request metrics:
  - request_wait_seconds{cache}
  - requests_rejected_total{cache}

Store metrics:
  - bytes_fetched_total{cache}
  - units_evicted_total{cache}
  - resident_bytes{cache}

Error metrics:
  - transport_errors_total{cache,type}: type is the error category for
    structured errors and a best-effort classification otherwise

All names carry the configured namespace and subsystem prefixes.

A disabled collector accepts every call and records nothing.
*/
package metrics
