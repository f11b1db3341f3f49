package metrics

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/types"
)

// Collector records cache events as Prometheus metrics and serves them over
// HTTP. It implements types.MetricsCollector.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	connectionsOpened *prometheus.CounterVec
	connectionsClosed *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
	bytesFetched      *prometheus.CounterVec
	requestWait       *prometheus.HistogramVec
	requestsRejected  *prometheus.CounterVec
	unitsEvicted      *prometheus.CounterVec
	residentBytes     *prometheus.GaugeVec
	throughput        *prometheus.HistogramVec
	transportErrors   *prometheus.CounterVec

	// Internal tracking
	caches     map[string]*CacheMetrics
	transports map[string]types.TransportStatsReporter
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "streamcache",
		Labels:    make(map[string]string),
	}
}

// CacheMetrics is the per-cache summary served on /debug/caches.
type CacheMetrics struct {
	ConnectionsOpened int64     `json:"connections_opened"`
	BytesFetched      int64     `json:"bytes_fetched"`
	RequestsResolved  int64     `json:"requests_resolved"`
	RequestsRejected  int64     `json:"requests_rejected"`
	UnitsEvicted      int64     `json:"units_evicted"`
	TransportErrors   int64     `json:"transport_errors"`
	ResidentBytes     uint64    `json:"resident_bytes"`
	AvgWait           string    `json:"avg_wait"`
	LastThroughput    float64   `json:"last_throughput"`
	LastEvent         time.Time `json:"last_event"`

	totalWait time.Duration
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	collector := &Collector{
		config:    config,
		logger:    slog.Default().With("component", "metrics"),
		caches:     make(map[string]*CacheMetrics),
		transports: make(map[string]types.TransportStatsReporter),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	// Create Prometheus registry
	collector.registry = prometheus.NewRegistry()

	collector.initMetrics()

	// Register metrics with registry
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the collector's registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler serving the metrics, health and debug
// endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/caches", c.debugCachesHandler)
	return mux
}

// Start binds the metrics port and serves until Stop. Bind errors are
// returned; later serve errors are logged.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on metrics port %d: %w", c.config.Port, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	c.logger.Info("Serving metrics", "addr", ln.Addr().String(), "path", c.config.Path)

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address after Start, or nil.
func (c *Collector) Addr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// ConnectionOpened implements types.MetricsCollector.
func (c *Collector) ConnectionOpened(cache string) {
	if !c.config.Enabled {
		return
	}
	c.connectionsOpened.WithLabelValues(cache).Inc()
	c.activeConnections.WithLabelValues(cache).Inc()
	c.track(cache, func(m *CacheMetrics) { m.ConnectionsOpened++ })
}

// ConnectionClosed implements types.MetricsCollector.
func (c *Collector) ConnectionClosed(cache string, reason string) {
	if !c.config.Enabled {
		return
	}
	c.connectionsClosed.WithLabelValues(cache, reason).Inc()
	c.activeConnections.WithLabelValues(cache).Dec()
}

// BytesFetched implements types.MetricsCollector.
func (c *Collector) BytesFetched(cache string, n int64) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.bytesFetched.WithLabelValues(cache).Add(float64(n))
	c.track(cache, func(m *CacheMetrics) { m.BytesFetched += n })
}

// RequestResolved implements types.MetricsCollector.
func (c *Collector) RequestResolved(cache string, wait time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.requestWait.WithLabelValues(cache).Observe(wait.Seconds())
	c.track(cache, func(m *CacheMetrics) {
		m.RequestsResolved++
		m.totalWait += wait
		m.AvgWait = (m.totalWait / time.Duration(m.RequestsResolved)).String()
	})
}

// RequestRejected implements types.MetricsCollector.
func (c *Collector) RequestRejected(cache string) {
	if !c.config.Enabled {
		return
	}
	c.requestsRejected.WithLabelValues(cache).Inc()
	c.track(cache, func(m *CacheMetrics) { m.RequestsRejected++ })
}

// UnitsEvicted implements types.MetricsCollector.
func (c *Collector) UnitsEvicted(cache string, n int) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.unitsEvicted.WithLabelValues(cache).Add(float64(n))
	c.track(cache, func(m *CacheMetrics) { m.UnitsEvicted += int64(n) })
}

// ResidentBytes implements types.MetricsCollector.
func (c *Collector) ResidentBytes(cache string, n uint64) {
	if !c.config.Enabled {
		return
	}
	c.residentBytes.WithLabelValues(cache).Set(float64(n))
	c.track(cache, func(m *CacheMetrics) { m.ResidentBytes = n })
}

// Throughput implements types.MetricsCollector.
func (c *Collector) Throughput(cache string, bytesPerSecond float64) {
	if !c.config.Enabled {
		return
	}
	c.throughput.WithLabelValues(cache).Observe(bytesPerSecond)
	c.track(cache, func(m *CacheMetrics) { m.LastThroughput = bytesPerSecond })
}

// TransportError implements types.MetricsCollector.
func (c *Collector) TransportError(cache string, err error) {
	if !c.config.Enabled {
		return
	}
	c.transportErrors.WithLabelValues(cache, classifyError(err)).Inc()
	c.track(cache, func(m *CacheMetrics) { m.TransportErrors++ })
}

// GetMetrics returns a copy of the per-cache summaries.
func (c *Collector) GetMetrics() map[string]CacheMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]CacheMetrics, len(c.caches))
	for name, m := range c.caches {
		out[name] = *m
	}
	return out
}

// ResetMetrics resets the per-cache summaries. Prometheus counters are
// monotonic and keep their values.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.caches = make(map[string]*CacheMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) track(cache string, update func(*CacheMetrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.caches[cache]
	if !ok {
		m = &CacheMetrics{}
		c.caches[cache] = m
	}
	update(m)
	m.LastEvent = time.Now()
}

func (c *Collector) initMetrics() {
	constLabels := prometheus.Labels(c.config.Labels)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, []string{"cache"})
	}
	histogram := func(name, help string, buckets []float64) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
			Buckets:     buckets,
		}, []string{"cache"})
	}

	// Connection metrics
	c.connectionsOpened = counter("connections_opened_total", "Total number of transport connections opened", "cache")
	c.connectionsClosed = counter("connections_closed_total", "Total number of transport connections closed", "cache", "reason")
	c.activeConnections = gauge("active_connections", "Number of active transport connections")
	c.throughput = histogram("connection_throughput_bytes_per_second", "Throughput of closed connections",
		prometheus.ExponentialBuckets(64*1024, 2, 14)) // 64KB/s to ~512MB/s

	// Request metrics
	c.requestWait = histogram("request_wait_seconds", "Time from queuing a read to resolving it",
		prometheus.ExponentialBuckets(0.001, 2, 15)) // 1ms to ~32s
	c.requestsRejected = counter("requests_rejected_total", "Total number of queued reads rejected", "cache")

	// Store metrics
	c.bytesFetched = counter("bytes_fetched_total", "Total bytes received from the transport", "cache")
	c.unitsEvicted = counter("units_evicted_total", "Total blocks evicted from the store", "cache")
	c.residentBytes = gauge("resident_bytes", "Bytes currently held in the store")

	// Error metrics
	c.transportErrors = counter("transport_errors_total", "Total number of transport errors", "cache", "type")
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.connectionsOpened,
		c.connectionsClosed,
		c.activeConnections,
		c.bytesFetched,
		c.requestWait,
		c.requestsRejected,
		c.unitsEvicted,
		c.residentBytes,
		c.throughput,
		c.transportErrors,
		newTransportCollector(c),
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	if err == nil {
		return "other"
	}

	var cacheErr *errors.CacheError
	if stderrors.As(err, &cacheErr) {
		return strings.ToLower(string(cacheErr.Category))
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "unexpected eof"):
		return "truncated"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "throttl"), strings.Contains(errStr, "slow down"):
		return "throttling"
	default:
		return "other"
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"streamcache-metrics"}`)) // Ignore write error for health check
}

func (c *Collector) debugCachesHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	uptime := time.Since(c.lastReset)
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":     uptime.String(),
		"caches":     c.GetMetrics(),
		"transports": c.TransportStats(),
	})
}

var _ types.MetricsCollector = (*Collector)(nil)
