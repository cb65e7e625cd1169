package api

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

// Stats is the façade's per-RPC-method counters/latency tracker, backed by
// prometheus counters/histograms and also kept in a plain map so Snapshot()
// can render pkg/xmtptypes.MetricsSnapshot without scraping the registry.
// Grounded on the original source's xmtp_api_d14n/src/queries/api_stats.rs,
// the libxmtp Rust crate's per-call stats tracker this module's distillation
// dropped.
type Stats struct {
	calls    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	mu         sync.Mutex
	byMethod   map[string]*methodStats
	pendingSet func() int
}

type methodStats struct {
	count        int
	errors       int
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

// NewStats constructs a Stats layer registered against the default
// prometheus registerer. Double registration (e.g. from multiple Facade
// instances in one process) is tolerated by ignoring AlreadyRegisteredError,
// matching how the teacher's waku node metrics register once per process.
func NewStats() *Stats {
	s := &Stats{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xmtp",
			Subsystem: "api",
			Name:      "calls_total",
			Help:      "Total API façade calls by method.",
		}, []string{"method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xmtp",
			Subsystem: "api",
			Name:      "call_errors_total",
			Help:      "Total API façade call errors by method.",
		}, []string{"method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xmtp",
			Subsystem: "api",
			Name:      "call_latency_seconds",
			Help:      "API façade call latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		byMethod: make(map[string]*methodStats),
	}
	for _, c := range []prometheus.Collector{s.calls, s.errors, s.latency} {
		if err := registerCollector(prometheus.DefaultRegisterer, c); err != nil {
			if _, already := err.(prometheus.AlreadyRegisteredError); !already {
				panic(err)
			}
		}
	}
	return s
}

// Observe times fn, recording its outcome under method in both the
// prometheus vectors and the in-process snapshot map.
func (s *Stats) Observe(method string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	s.calls.WithLabelValues(method).Inc()
	s.latency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		s.errors.WithLabelValues(method).Inc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byMethod[method]
	if !ok {
		m = &methodStats{}
		s.byMethod[method] = m
	}
	m.count++
	if err != nil {
		m.errors++
	}
	m.totalLatency += elapsed
	m.lastLatency = elapsed
	if elapsed > m.maxLatency {
		m.maxLatency = elapsed
	}
	return err
}

// SetPendingIntentsFunc wires a callback the Snapshot uses to fill
// MetricsSnapshot.PendingIntents, typically the intent store's queue depth.
func (s *Stats) SetPendingIntentsFunc(f func() int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSet = f
}

// Snapshot renders the façade-level stats dump spec §2/§4 names, mirroring
// pkg/models.MetricsSnapshot in the teacher.
func (s *Stats) Snapshot(streamLagSeconds float64) xmtptypes.MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := xmtptypes.MetricsSnapshot{
		OperationStats:   make(map[string]xmtptypes.OperationMetric, len(s.byMethod)),
		StreamLagSeconds: streamLagSeconds,
		LastUpdatedAt:    time.Now(),
	}
	if s.pendingSet != nil {
		out.PendingIntents = s.pendingSet()
	}
	for method, m := range s.byMethod {
		avg := int64(0)
		if m.count > 0 {
			avg = (m.totalLatency / time.Duration(m.count)).Milliseconds()
		}
		out.OperationStats[method] = xmtptypes.OperationMetric{
			Count:         m.count,
			Errors:        m.errors,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  m.maxLatency.Milliseconds(),
			LastLatencyMs: m.lastLatency.Milliseconds(),
		}
	}
	return out
}
