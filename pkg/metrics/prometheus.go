package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signals       *prometheus.CounterVec
	correlation   *prometheus.HistogramVec
	rejections    *prometheus.CounterVec
	sizingFailed  *prometheus.CounterVec
	breakerTrips  *prometheus.CounterVec
	marginGauge   *prometheus.GaugeVec
	expired       prometheus.Counter
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New registers the recorder's collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_signals_total",
				Help: "Signals processed by path and outcome",
			},
			[]string{"path", "outcome"},
		),
		correlation: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalgate_correlation_score",
				Help:    "Cross-timeframe correlation scores",
				Buckets: prometheus.LinearBuckets(-1, 0.2, 11),
			},
			[]string{"strategy"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_rejections_total",
				Help: "Declined signals by the layer that declined them",
			},
			[]string{"layer"},
		),
		sizingFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_sizing_failures_total",
				Help: "Position sizing failures by method",
			},
			[]string{"method"},
		),
		breakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_circuit_breaker_trips_total",
				Help: "Circuit breaker trips by scope and name",
			},
			[]string{"scope", "name"},
		),
		marginGauge: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalgate_margin",
				Help: "Margin ledger balances",
			},
			[]string{"kind"},
		),
		expired: f.NewCounter(
			prometheus.CounterOpts{
				Name: "signalgate_expired_signals_total",
				Help: "Active signals evicted by the expiry sweep",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalgate_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordSignal(path, outcome string) {
	r.signals.WithLabelValues(path, outcome).Inc()
}

func (r *Recorder) RecordCorrelation(strategy string, score float64) {
	r.correlation.WithLabelValues(strategy).Observe(score)
}

func (r *Recorder) RecordRejection(layer string) {
	r.rejections.WithLabelValues(layer).Inc()
}

func (r *Recorder) RecordSizingFailure(method string) {
	r.sizingFailed.WithLabelValues(method).Inc()
}

func (r *Recorder) RecordBreakerTrip(scope, name string) {
	r.breakerTrips.WithLabelValues(scope, name).Inc()
}

// RecordMargin sets the available/used margin gauges.
func (r *Recorder) RecordMargin(available, used float64) {
	r.marginGauge.WithLabelValues("available").Set(available)
	r.marginGauge.WithLabelValues("used").Set(used)
}

func (r *Recorder) RecordExpired(n int) {
	r.expired.Add(float64(n))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards everything; used when no recorder is wired.
type Noop struct{}

func (Noop) RecordSignal(string, string)         {}
func (Noop) RecordCorrelation(string, float64)   {}
func (Noop) RecordRejection(string)              {}
func (Noop) RecordSizingFailure(string)          {}
func (Noop) RecordBreakerTrip(string, string)    {}
func (Noop) RecordMargin(float64, float64)       {}
func (Noop) RecordExpired(int)                   {}
func (Noop) RecordError(string)                  {}
func (Noop) RecordLatency(string, float64)       {}
