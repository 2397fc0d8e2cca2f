// Package metrics holds the Prometheus collectors for publishing runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sheetcast/internal/post"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	scheduled     prometheus.Gauge
	buildInfo     *prometheus.GaugeVec
}

func New(version string) *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetcast_runs_total",
			Help: "Publishing runs by result and failure kind",
		},
		[]string{"result", "kind"},
	)
	m.fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetcast_fetch_attempts_total",
			Help: "Worksheet reads including retries",
		},
		[]string{"source"},
	)
	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetcast_run_duration_seconds",
			Help:    "Wall time of a publishing run",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"result"},
	)
	m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sheetcast_runs_in_flight",
		Help: "Runs currently executing",
	})
	m.scheduled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sheetcast_scheduled_destinations",
		Help: "Destinations loaded into the daily scheduler",
	})
	m.buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sheetcast_build_info",
		Help: "Build information",
	}, []string{"version"})

	m.reg.MustRegister(
		m.runsTotal, m.fetchAttempts, m.runDuration, m.inFlight, m.scheduled, m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.buildInfo.WithLabelValues(version).Set(1)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RunStarted returns a func that records the run's end.
func (m *Metrics) RunStarted() func(post.Outcome) {
	if m == nil {
		return func(post.Outcome) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(o post.Outcome) {
		m.inFlight.Dec()
		res := o.Result()
		m.runsTotal.WithLabelValues(res, string(o.Kind)).Inc()
		m.runDuration.WithLabelValues(res).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) FetchAttempt(source string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(source).Inc()
}

func (m *Metrics) SetScheduled(n int) {
	if m == nil {
		return
	}
	m.scheduled.Set(float64(n))
}
