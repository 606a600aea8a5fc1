package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuemby/portfolio-deploy/pkg/types"
)

const namespace = "portfolio"

// HealthMetrics holds the probe daemon's metrics on a private registry
type HealthMetrics struct {
	registry *prometheus.Registry

	Status      prometheus.Gauge
	CheckStatus *prometheus.GaugeVec
	CheckValue  *prometheus.GaugeVec
	Uptime      prometheus.Counter
	ChecksTotal *prometheus.CounterVec

	mu         sync.Mutex
	uptimeSeen float64
}

// NewHealthMetrics creates and registers the health metrics together with
// the Go runtime and process collectors
func NewHealthMetrics() *HealthMetrics {
	m := &HealthMetrics{
		registry: prometheus.NewRegistry(),

		Status: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "health_status",
				Help:      "Overall health of the service (1 = healthy, 0 = unhealthy)",
			},
		),

		CheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "health_check_status",
				Help:      "Health of each sub-check (1 = healthy, 0 = unhealthy)",
			},
			[]string{"check"},
		),

		CheckValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "health_check_value",
				Help:      "Measurement reported by a sub-check, e.g. usage percent or latency",
			},
			[]string{"check"},
		),

		Uptime: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Seconds since the health service started",
			},
		),

		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Total number of health evaluations by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.Status,
		m.CheckStatus,
		m.CheckValue,
		m.Uptime,
		m.ChecksTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// observeUptime advances the uptime counter to seconds; it never goes back
func (m *HealthMetrics) observeUptime(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seconds > m.uptimeSeen {
		m.Uptime.Add(seconds - m.uptimeSeen)
		m.uptimeSeen = seconds
	}
}

// Registry returns the registry so additional collectors can join it
func (m *HealthMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one health report
func (m *HealthMetrics) Observe(report *types.HealthReport) {
	if report == nil {
		return
	}

	m.Status.Set(boolGauge(report.Healthy()))
	m.observeUptime(report.Uptime)
	m.ChecksTotal.WithLabelValues(string(report.Status)).Inc()

	for name, check := range report.Checks {
		m.CheckStatus.WithLabelValues(name).Set(boolGauge(check.Status == types.HealthHealthy))
		if check.Value != nil {
			m.CheckValue.WithLabelValues(name).Set(*check.Value)
		} else {
			m.CheckValue.DeleteLabelValues(name)
		}
	}
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *HealthMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
