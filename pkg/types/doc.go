/*
Package types provides the shared data model and collaborator contracts of streamcache.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│        cmd/streamcache, internal/fuse        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   internal/cache (FileCache, MessageCache)   │
	└─────────────────────────────────────────────┘
	        │            │             │
	┌───────┴─────┐ ┌────┴──────┐ ┌────┴─────┐
	│  scheduler  │ │   store   │ │ eviction │
	└─────────────┘ └───────────┘ └──────────┘
	                      │
	               internal/interval

# Ranges

Range is half-open: [Start, End). Start == End is the empty range. The same type
addresses bytes (object caches) and time blocks (message caches).

# Collaborators

Transport streams byte ranges of one object; DataProvider answers inclusive
time-window queries for a set of partitions. Both are owned by the caller and
driven by exactly one in-flight fetch at a time.

MetricsCollector receives telemetry; NoopMetrics is used when none is configured.
*/
package types
