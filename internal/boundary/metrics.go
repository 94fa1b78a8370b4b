package boundary

import "github.com/prometheus/client_golang/prometheus"

// metrics are the gauges the boundary exposes on /metrics: the pieces
// of runtime state an operator can't otherwise see from outside the
// process (in-flight runs, open per-owner streams). Each Handler owns
// its own registry rather than registering against the global default,
// so multiple Handlers (as in tests) never collide on collector names.
type metrics struct {
	registry     *prometheus.Registry
	activeRuns   prometheus.Gauge
	openStreams  prometheus.Gauge
	chatRequests prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_boundary_active_runs",
			Help: "Number of runs with an open SSE queue on the boundary.",
		}),
		openStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_boundary_open_owner_streams",
			Help: "Number of open persistent per-owner command-result streams.",
		}),
		chatRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_boundary_chat_requests_total",
			Help: "Total POST /chat requests accepted.",
		}),
	}
	reg.MustRegister(m.activeRuns, m.openStreams, m.chatRequests)
	return m
}
