package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the reservation lifecycle collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	reservations  *prometheus.CounterVec
	released      *prometheus.CounterVec
	sales         *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepErrors   prometheus.Counter
	eventsDropped *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		}, []string{"result"}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "tickets_released_total",
			Help:      "Tickets returned to available by reason.",
		}, []string{"reason"}),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "sales_finalized_total",
			Help:      "Finalize calls by outcome.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raffle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "sweep_errors_total",
			Help:      "Expiry sweeps that returned an error.",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "events_publish_failures_total",
			Help:      "Events that could not be published.",
		}, []string{"kind"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "raffle",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.reservations, m.released, m.sales, m.sweepDuration, m.sweepErrors, m.eventsDropped, m.httpDuration)
	return m
}

func (m *Metrics) Reservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

func (m *Metrics) Released(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.released.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Sale(result string) {
	if m == nil {
		return
	}
	m.sales.WithLabelValues(result).Inc()
}

func (m *Metrics) Sweep(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
	if err != nil {
		m.sweepErrors.Inc()
	}
}

func (m *Metrics) PublishFailed(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
