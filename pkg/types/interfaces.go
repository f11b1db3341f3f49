package types

import (
	"context"
	"io"
	"time"
)

// Transport opens byte ranges of a single remote object.
type Transport interface {
	// Open returns the object's metadata. It may be called more than once.
	Open(ctx context.Context) (ObjectInfo, error)

	// Fetch starts streaming length bytes from offset. The stream ends with
	// io.EOF, fails with any other error, and is destroyed by Close or by
	// cancelling ctx.
	Fetch(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// ThroughputRecorder is optionally implemented by a Transport that wants
// to observe download speed. Telemetry only.
type ThroughputRecorder interface {
	RecordThroughput(bytesPerSecond float64)
}

// TransportStatsReporter is optionally implemented by a Transport that
// keeps request counters of its own.
type TransportStatsReporter interface {
	TransportStats() TransportStats
}

// DataProvider serves timestamped records split by partition.
type DataProvider interface {
	Initialize(ctx context.Context) (ProviderInfo, error)

	// GetMessages returns every record of the given partitions with a
	// timestamp in [start, end], inclusive on both sides.
	GetMessages(ctx context.Context, start, end time.Time, partitions []string) ([]Record, error)

	Close() error
}

// MetricsCollector receives cache events. Implementations must be safe for
// concurrent use; the caches call them while holding their own lock.
type MetricsCollector interface {
	ConnectionOpened(cache string)
	ConnectionClosed(cache string, reason string)
	BytesFetched(cache string, n int64)
	RequestResolved(cache string, wait time.Duration)
	RequestRejected(cache string)
	UnitsEvicted(cache string, n int)
	ResidentBytes(cache string, n uint64)
	Throughput(cache string, bytesPerSecond float64)
	TransportError(cache string, err error)
}

// NoopMetrics is the default MetricsCollector.
type NoopMetrics struct{}

func (NoopMetrics) ConnectionOpened(string)               {}
func (NoopMetrics) ConnectionClosed(string, string)       {}
func (NoopMetrics) BytesFetched(string, int64)            {}
func (NoopMetrics) RequestResolved(string, time.Duration) {}
func (NoopMetrics) RequestRejected(string)                {}
func (NoopMetrics) UnitsEvicted(string, int)              {}
func (NoopMetrics) ResidentBytes(string, uint64)          {}
func (NoopMetrics) Throughput(string, float64)            {}
func (NoopMetrics) TransportError(string, error)          {}

var _ MetricsCollector = NoopMetrics{}
