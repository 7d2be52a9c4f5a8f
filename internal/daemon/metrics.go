package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the daemon's prometheus instruments on a private registry so
// multiple servers (tests included) never collide.
type metrics struct {
	registry      *prometheus.Registry
	triggersTotal *prometheus.CounterVec
	scansTotal    *prometheus.CounterVec
	scansInFlight prometheus.Gauge
	findingsTotal prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	m := &metrics{
		registry: reg,
		triggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_daemon_triggers_total",
			Help: "Trigger requests by outcome.",
		}, []string{"outcome"}),
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_daemon_scans_total",
			Help: "Completed scans by mode and outcome.",
		}, []string{"mode", "outcome"}),
		scansInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_daemon_scans_in_flight",
			Help: "Scans currently executing.",
		}),
		findingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hydra_daemon_findings_total",
			Help: "Findings emitted across all scans.",
		}),
	}
	reg.MustRegister(m.triggersTotal, m.scansTotal, m.scansInFlight, m.findingsTotal)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
