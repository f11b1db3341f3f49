package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/objectfs/streamcache/pkg/types"
)

// RegisterTransport exposes r's request counters under the given name, both
// on the Prometheus endpoint and on /debug/caches. Registering a name again
// replaces the previous reporter.
func (c *Collector) RegisterTransport(name string, r types.TransportStatsReporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transports[name] = r
}

// TransportStats returns a snapshot from every registered transport.
func (c *Collector) TransportStats() map[string]types.TransportStats {
	c.mu.RLock()
	reporters := make(map[string]types.TransportStatsReporter, len(c.transports))
	for name, r := range c.transports {
		reporters[name] = r
	}
	c.mu.RUnlock()

	out := make(map[string]types.TransportStats, len(reporters))
	for name, r := range reporters {
		out[name] = r.TransportStats()
	}
	return out
}

// transportCollector reads registered transports at scrape time.
type transportCollector struct {
	collector *Collector

	requests   *prometheus.Desc
	errors     *prometheus.Desc
	bytes      *prometheus.Desc
	latency    *prometheus.Desc
	throughput *prometheus.Desc
}

func newTransportCollector(c *Collector) *transportCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(c.config.Namespace, c.config.Subsystem, name),
			help, []string{"transport"}, prometheus.Labels(c.config.Labels))
	}
	return &transportCollector{
		collector:  c,
		requests:   desc("transport_requests_total", "Total number of requests issued by the transport"),
		errors:     desc("transport_request_errors_total", "Total number of failed transport requests"),
		bytes:      desc("transport_downloaded_bytes_total", "Total bytes read from transport response bodies"),
		latency:    desc("transport_request_latency_seconds", "Rolling average time to first response"),
		throughput: desc("transport_throughput_bytes_per_second", "Rolling average throughput of completed streams"),
	}
}

func (tc *transportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- tc.requests
	ch <- tc.errors
	ch <- tc.bytes
	ch <- tc.latency
	ch <- tc.throughput
}

func (tc *transportCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range tc.collector.TransportStats() {
		ch <- prometheus.MustNewConstMetric(tc.requests, prometheus.CounterValue, float64(s.Requests), name)
		ch <- prometheus.MustNewConstMetric(tc.errors, prometheus.CounterValue, float64(s.Errors), name)
		ch <- prometheus.MustNewConstMetric(tc.bytes, prometheus.CounterValue, float64(s.BytesDownloaded), name)
		ch <- prometheus.MustNewConstMetric(tc.latency, prometheus.GaugeValue, s.AverageLatency.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(tc.throughput, prometheus.GaugeValue, s.Throughput, name)
	}
}
