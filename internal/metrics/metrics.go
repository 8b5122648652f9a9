// Package metrics holds the Prometheus instruments for the polling pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for polling cycles and alert delivery.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Cycles             *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	FetchAttempts      *prometheus.CounterVec
	ParseSkipped       prometheus.Counter
	Transitions        prometheus.Counter
	Deliveries         *prometheus.CounterVec
	StateSaveFailures  prometheus.Counter
	StateLoadFailures  prometheus.Counter
	TrackedProducts    prometheus.Gauge
	LastSuccessfulSync prometheus.Gauge
}

// New registers the metrics on reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_cycles_total",
			Help: "Total number of polling cycles by result (ok, fetch_error, parse_error)",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockwatch_cycle_duration_seconds",
			Help:    "Duration of polling cycles",
			Buckets: prometheus.DefBuckets,
		}),
		FetchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_fetch_attempts_total",
			Help: "Total number of upstream HTTP attempts by result (ok, error)",
		}, []string{"result"}),
		ParseSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_parse_skipped_total",
			Help: "Total number of payload entries skipped by the parser",
		}),
		Transitions: f.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_transitions_total",
			Help: "Total number of back-in-stock transitions detected",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_deliveries_total",
			Help: "Total number of alert deliveries by result (sent, failed, unconfigured)",
		}, []string{"result"}),
		StateSaveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_state_save_failures_total",
			Help: "Total number of failed durable state writes",
		}),
		StateLoadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_state_load_failures_total",
			Help: "Total number of failed durable state reads",
		}),
		TrackedProducts: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockwatch_tracked_products",
			Help: "Number of products in the durable state after the last cycle",
		}),
		LastSuccessfulSync: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockwatch_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that fetched and classified a payload",
		}),
	}
}

func (m *Metrics) ObserveCycle(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(took.Seconds())
	if result == "ok" {
		m.LastSuccessfulSync.SetToCurrentTime()
	}
}

// ObserveFetchAttempt matches fetch.WithAttemptObserver.
func (m *Metrics) ObserveFetchAttempt(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.FetchAttempts.WithLabelValues("error").Inc()
		return
	}
	m.FetchAttempts.WithLabelValues("ok").Inc()
}

func (m *Metrics) AddParseSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ParseSkipped.Add(float64(n))
}

func (m *Metrics) AddTransitions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Transitions.Add(float64(n))
}

func (m *Metrics) IncDelivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncStateSaveFailure() {
	if m == nil {
		return
	}
	m.StateSaveFailures.Inc()
}

func (m *Metrics) IncStateLoadFailure() {
	if m == nil {
		return
	}
	m.StateLoadFailures.Inc()
}

func (m *Metrics) SetTrackedProducts(n int) {
	if m == nil {
		return
	}
	m.TrackedProducts.Set(float64(n))
}
