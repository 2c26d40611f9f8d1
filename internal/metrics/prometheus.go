package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector with client_golang vectors.
type Prometheus struct {
	remoteCalls     *prometheus.CounterVec
	remoteLatency   *prometheus.HistogramVec
	circuitState    *prometheus.GaugeVec
	circuitOpens    *prometheus.CounterVec
	normalizeIssues prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	outboxDelivered *prometheus.CounterVec
	outboxDepth     prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

func NewPrometheus(namespace string) *Prometheus {
	return &Prometheus{
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Calls to the data service per operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		remoteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Data service call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Number of times the circuit breaker opened",
			},
			[]string{"name"},
		),
		normalizeIssues: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "normalize_issues_total",
				Help:      "Records that failed to parse during normalization",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_cache_lookups_total",
				Help:      "Transaction list cache lookups by result",
			},
			[]string{"result"},
		),
		outboxDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_deliveries_total",
				Help:      "Outbox delivery attempts by resulting status",
			},
			[]string{"status"},
		),
		outboxDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_depth",
				Help:      "Saves waiting in the outbox",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Register registers all metrics with the given registry.
func (p *Prometheus) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		p.remoteCalls,
		p.remoteLatency,
		p.circuitState,
		p.circuitOpens,
		p.normalizeIssues,
		p.cacheLookups,
		p.outboxDelivered,
		p.outboxDepth,
		p.httpRequests,
		p.httpLatency,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Prometheus) RecordRemoteCall(operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.remoteCalls.WithLabelValues(operation, outcome).Inc()
	p.remoteLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (p *Prometheus) RecordCircuitState(name string, state CircuitState) {
	p.circuitState.WithLabelValues(name).Set(float64(state))
	if state == CircuitOpen {
		p.circuitOpens.WithLabelValues(name).Inc()
	}
}

func (p *Prometheus) RecordNormalizeIssues(count int) {
	if count > 0 {
		p.normalizeIssues.Add(float64(count))
	}
}

func (p *Prometheus) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(result).Inc()
}

func (p *Prometheus) RecordOutboxDelivery(status string) {
	p.outboxDelivered.WithLabelValues(status).Inc()
}

func (p *Prometheus) RecordOutboxDepth(depth int) {
	p.outboxDepth.Set(float64(depth))
}

func (p *Prometheus) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}
