package types

import (
	"fmt"
	"time"
)

// Range represents a half-open interval [Start, End) over unit indices.
// Units are byte offsets for object caches and block indices for message caches.
type Range struct {
	Start uint64 `json:"start" yaml:"start"`
	End   uint64 `json:"end" yaml:"end"`
}

// Width returns the number of units covered by the range.
func (r Range) Width() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// IsEmpty reports whether the range covers no units.
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// Contains returns true if r2 lies entirely within r.
func (r Range) Contains(r2 Range) bool {
	return r.Start <= r2.Start && r2.End <= r.End
}

// Overlaps returns true if r and r2 share at least one unit.
func (r Range) Overlaps(r2 Range) bool {
	return r.Start < r2.End && r2.Start < r.End
}

// Intersect returns the overlap of r and r2. If they do not overlap the
// result has zero width.
func (r Range) Intersect(r2 Range) Range {
	if r.Start < r2.Start {
		r.Start = r2.Start
	}
	if r.End > r2.End {
		r.End = r2.End
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// FractionRange is a resident range expressed as fractions of the resource size.
type FractionRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Progress is reported after every store mutation.
type Progress struct {
	Ranges []FractionRange `json:"ranges"`
}

// Record is a single timestamped message belonging to a partition.
type Record struct {
	Partition string    `json:"partition"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

// Size returns the number of bytes the record accounts for in the cache budget.
func (r Record) Size() uint64 {
	return uint64(len(r.Data) + len(r.Partition))
}

// ProviderInfo describes the time span and partitions a DataProvider serves.
type ProviderInfo struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Partitions []string  `json:"partitions"`
}

// ObjectInfo represents metadata about a remote object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
}

// CacheStats represents a point-in-time snapshot of a range cache
type CacheStats struct {
	ResourceSize      uint64 `json:"resource_size"`
	ResidentBytes     uint64 `json:"resident_bytes"`
	ResidentRanges    int    `json:"resident_ranges"`
	PendingRequests   int    `json:"pending_requests"`
	ActiveConnection  bool   `json:"active_connection"`
	ConnectionsOpened uint64 `json:"connections_opened"`
	BytesFetched      uint64 `json:"bytes_fetched"`
	RequestsResolved  uint64 `json:"requests_resolved"`
	RequestsRejected  uint64 `json:"requests_rejected"`
	UnitsEvicted      uint64 `json:"units_evicted"`
	TransportErrors   uint64 `json:"transport_errors"`
	Closed            bool   `json:"closed"`
}

// TransportStats is a snapshot of a transport's own request counters.
type TransportStats struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	ErrorRate       float64       `json:"error_rate"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	Throughput      float64       `json:"throughput"`
	LastError       string        `json:"last_error,omitempty"`
	LastErrorTime   time.Time     `json:"last_error_time,omitempty"`
}
