package s3

import (
	"sync"
	"time"

	"github.com/objectfs/streamcache/pkg/types"
)

// requestMetrics accumulates the counters reported by Transport.TransportStats.
type requestMetrics struct {
	mu    sync.Mutex
	stats types.TransportStats
}

// observe records one S3 call. Latency is a rolling average weighted 9:1
// toward history.
func (m *requestMetrics) observe(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Requests++
	if m.stats.Requests == 1 {
		m.stats.AverageLatency = latency
	} else {
		m.stats.AverageLatency = (m.stats.AverageLatency*9 + latency) / 10
	}

	if err != nil {
		m.stats.Errors++
		m.stats.LastError = err.Error()
		m.stats.LastErrorTime = time.Now()
	}
}

func (m *requestMetrics) addBytes(n int64) {
	m.mu.Lock()
	m.stats.BytesDownloaded += n
	m.mu.Unlock()
}

func (m *requestMetrics) addThroughput(bytesPerSecond float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stats.Throughput == 0 {
		m.stats.Throughput = bytesPerSecond
		return
	}
	m.stats.Throughput = (m.stats.Throughput*9 + bytesPerSecond) / 10
}

func (m *requestMetrics) snapshot() types.TransportStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if stats.Requests > 0 {
		stats.ErrorRate = float64(stats.Errors) / float64(stats.Requests)
	}
	return stats
}
