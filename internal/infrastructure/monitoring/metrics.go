package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Guest metrics
	GuestsActive   prometheus.Gauge
	GuestsTotal    prometheus.Counter
	GuestExits     *prometheus.CounterVec
	GuestDuration  prometheus.Histogram
	GuestMessages  *prometheus.CounterVec
	RemoteFetches  *prometheus.CounterVec
	ModuleLoads    *prometheus.CounterVec
	SnapshotsSaved prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveGuests      int64   `json:"active_guests"`
	TotalGuests       int64   `json:"total_guests"`
	ActiveConnections int64   `json:"active_connections"`
	TotalDuration     float64 `json:"total_duration"`
	RequestCount      int64   `json:"request_count"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics registers every collector against reg. A nil reg uses a fresh
// registry, so tests and several servers in one process do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodebox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodebox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodebox_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodebox_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		GuestsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodebox_guests_active",
				Help: "Number of running guests",
			},
		),
		GuestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nodebox_guests_total",
				Help: "Total number of guests started",
			},
		),
		GuestExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodebox_guest_exits_total",
				Help: "Guest terminations by outcome",
			},
			[]string{"outcome"},
		),
		GuestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nodebox_guest_duration_seconds",
				Help:    "Guest lifetime in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300, 1800},
			},
		),
		GuestMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodebox_guest_messages_total",
				Help: "Host/guest protocol messages",
			},
			[]string{"direction", "type"},
		),
		RemoteFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodebox_vfs_fetches_total",
				Help: "VFS remote lookups by outcome",
			},
			[]string{"outcome"},
		),
		ModuleLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodebox_module_loads_total",
				Help: "Guest module loads by outcome",
			},
			[]string{"outcome"},
		),
		SnapshotsSaved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nodebox_snapshots_saved_total",
				Help: "Total number of VFS snapshots persisted",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodebox_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "nodebox_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// GuestStarted counts a new guest and returns a func that records its end.
func (m *Metrics) GuestStarted() (done func(outcome string)) {
	start := time.Now()
	m.GuestsTotal.Inc()
	m.GuestsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveGuests++
	m.snapshot.TotalGuests++
	m.mu.Unlock()

	var once sync.Once
	return func(outcome string) {
		once.Do(func() {
			m.GuestsActive.Dec()
			m.GuestExits.WithLabelValues(outcome).Inc()
			m.GuestDuration.Observe(time.Since(start).Seconds())
			m.mu.Lock()
			m.snapshot.ActiveGuests--
			m.mu.Unlock()
		})
	}
}

// RecordMessage counts one protocol message; direction is "in" for
// host-to-guest and "out" for guest-to-host.
func (m *Metrics) RecordMessage(direction, msgType string) {
	m.GuestMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordFetch counts one VFS remote lookup.
func (m *Metrics) RecordFetch(outcome string) {
	m.RemoteFetches.WithLabelValues(outcome).Inc()
}

// RecordModuleLoad counts one guest module load.
func (m *Metrics) RecordModuleLoad(outcome string) {
	m.ModuleLoads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSnapshotsSaved() {
	m.SnapshotsSaved.Inc()
}

func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
