package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Write outcomes recorded by the reconciliation scheduler.
const (
	WritePersisted = "persisted"
	WriteRequeued  = "requeued"
	WriteLost      = "lost"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and
// records nothing, so components can run without metrics wired.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Pipeline metrics
	tradesIngested   prometheus.Counter
	tradesKept       prometheus.Counter
	tradesDropped    *prometheus.CounterVec
	refreshCycles    *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	dirtyStrategies  prometheus.Counter
	pendingUpdates   prometheus.Gauge
	flushesTotal     prometheus.Counter
	flushDuration    prometheus.Histogram
	writesTotal      *prometheus.CounterVec
	optOutsTotal     *prometheus.CounterVec
	strategiesLoaded prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Pipeline metrics
	r.tradesIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratsync_trades_ingested_total",
			Help: "Total number of raw trade records fetched",
		},
	)
	r.tradesKept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratsync_trades_kept_total",
			Help: "Total number of closed, deduplicated trades aggregated",
		},
	)
	r.tradesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratsync_trades_dropped_total",
			Help: "Total number of trade records excluded from aggregation",
		},
		[]string{"reason"},
	)
	r.refreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratsync_refresh_cycles_total",
			Help: "Total number of refresh cycles",
		},
		[]string{"status"},
	)
	r.refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratsync_refresh_duration_seconds",
			Help:    "Refresh cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	r.dirtyStrategies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratsync_dirty_strategies_total",
			Help: "Total number of strategies whose statistics changed",
		},
	)
	r.pendingUpdates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratsync_pending_updates",
			Help: "Number of strategy updates waiting to be persisted",
		},
	)
	r.flushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratsync_flushes_total",
			Help: "Total number of reconciliation flushes",
		},
	)
	r.flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratsync_flush_duration_seconds",
			Help:    "Reconciliation flush duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	r.writesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratsync_writes_total",
			Help: "Total number of strategy writes by outcome",
		},
		[]string{"outcome"},
	)
	r.optOutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratsync_opt_outs_total",
			Help: "Total number of automatic opt-outs by status",
		},
		[]string{"status"},
	)
	r.strategiesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratsync_strategies",
			Help: "Number of strategies in the last refresh",
		},
	)

	reg.MustRegister(r.tradesIngested)
	reg.MustRegister(r.tradesKept)
	reg.MustRegister(r.tradesDropped)
	reg.MustRegister(r.refreshCycles)
	reg.MustRegister(r.refreshDuration)
	reg.MustRegister(r.dirtyStrategies)
	reg.MustRegister(r.pendingUpdates)
	reg.MustRegister(r.flushesTotal)
	reg.MustRegister(r.flushDuration)
	reg.MustRegister(r.writesTotal)
	reg.MustRegister(r.optOutsTotal)
	reg.MustRegister(r.strategiesLoaded)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	if r == nil {
		return
	}
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Dec()
}

// RecordTrades records one ingestion pass: raw records fetched, trades
// kept after deduplication and the per-reason drop counts.
func (r *Registry) RecordTrades(ingested, kept int, dropped map[string]int) {
	if r == nil {
		return
	}
	r.tradesIngested.Add(float64(ingested))
	r.tradesKept.Add(float64(kept))
	for reason, n := range dropped {
		if n > 0 {
			r.tradesDropped.WithLabelValues(reason).Add(float64(n))
		}
	}
}

// RecordRefresh records a refresh cycle completion.
func (r *Registry) RecordRefresh(status string, duration float64) {
	if r == nil {
		return
	}
	r.refreshCycles.WithLabelValues(status).Inc()
	r.refreshDuration.Observe(duration)
}

// RecordDirty counts strategies found dirty in a cycle.
func (r *Registry) RecordDirty(n int) {
	if r == nil {
		return
	}
	r.dirtyStrategies.Add(float64(n))
}

// SetPending sets the size of the pending-update map.
func (r *Registry) SetPending(n int) {
	if r == nil {
		return
	}
	r.pendingUpdates.Set(float64(n))
}

// RecordFlush records a reconciliation flush completion.
func (r *Registry) RecordFlush(duration float64) {
	if r == nil {
		return
	}
	r.flushesTotal.Inc()
	r.flushDuration.Observe(duration)
}

// RecordWrite records the outcome of a single strategy write.
func (r *Registry) RecordWrite(outcome string) {
	if r == nil {
		return
	}
	r.writesTotal.WithLabelValues(outcome).Inc()
}

// RecordOptOuts records automatic opt-outs by status.
func (r *Registry) RecordOptOuts(status string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.optOutsTotal.WithLabelValues(status).Add(float64(n))
}

// SetStrategies sets the number of strategies seen in the last refresh.
func (r *Registry) SetStrategies(n int) {
	if r == nil {
		return
	}
	r.strategiesLoaded.Set(float64(n))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
