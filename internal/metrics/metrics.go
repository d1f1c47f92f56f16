// Package metrics exposes Prometheus instrumentation for calculations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the compensation service.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// Calculations by strategy, scenario and outcome
	Calculations *prometheus.CounterVec

	// Calculation latency by strategy
	CalculateLatency *prometheus.HistogramVec

	// Result cache lookups by result: "hit", "miss", "error"
	CacheLookups *prometheus.CounterVec

	// Calculator faults contained by the dispatcher
	InternalFaults *prometheus.CounterVec

	// Batch sizes
	BatchSize prometheus.Histogram
}

// New creates a Metrics instance on its own registry, with Go runtime and
// process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Calculations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redress_calculations_total",
			Help: "Total compensation calculations by strategy, scenario and outcome",
		}, []string{"strategy", "scenario", "outcome"}),

		CalculateLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redress_calculate_duration_seconds",
			Help:    "Duration of a single compensation calculation",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.1},
		}, []string{"strategy"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redress_result_cache_lookups_total",
			Help: "Result cache lookups by result",
		}, []string{"result"}),

		InternalFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redress_internal_faults_total",
			Help: "Calculator faults contained and reported as non-eligible",
		}, []string{"scenario"}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "redress_batch_size",
			Help:    "Number of requests per batch calculation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// ObserveCalculation records one finished calculation.
func (m *Metrics) ObserveCalculation(strategy, scenario, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Calculations.WithLabelValues(strategy, scenario, outcome).Inc()
	m.CalculateLatency.WithLabelValues(strategy).Observe(d.Seconds())
}

// IncrementCacheLookup records a result cache lookup.
func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

// IncrementInternalFault records a contained calculator fault.
func (m *Metrics) IncrementInternalFault(scenario string) {
	if m != nil {
		m.InternalFaults.WithLabelValues(scenario).Inc()
	}
}

// ObserveBatchSize records the size of a batch request.
func (m *Metrics) ObserveBatchSize(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
