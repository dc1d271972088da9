package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/probe"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/replay"
)

var (
	_ replay.Recorder = (*Metrics)(nil)
	_ probe.Recorder  = (*Metrics)(nil)
)

// Metrics counts replays and probe candidates on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	redirectHops    prometheus.Histogram
	candidatesTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replayer_requests_total",
			Help: "HTTP requests sent, including redirect hops, by status class",
		},
		[]string{"status_class"},
	)
	m.requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "replayer_request_duration_seconds",
		Help:    "Time from sending a hop to reading its body",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	})
	m.redirectHops = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "replayer_redirect_hops",
		Help:    "Hops per replayed descriptor",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
	})
	m.candidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replayer_probe_candidates_total",
			Help: "Probe candidates by outcome",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.redirectHops,
		m.candidatesTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// statusClass maps 404 to "4xx". Anything outside 100-599 is "other".
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}

func (m *Metrics) ObserveRequest(status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(statusClass(status)).Inc()
	m.requestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveChain(hops int) {
	m.redirectHops.Observe(float64(hops))
}

func (m *Metrics) ObserveCandidate(outcome string) {
	m.candidatesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
