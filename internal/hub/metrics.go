package hub

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the registry gauges. A nil *Metrics is valid.
type Metrics struct {
	Sessions  prometheus.Gauge
	Connected prometheus.Gauge
}

// NewMetrics builds unregistered gauges under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hubs", Name: "sessions",
			Help: "Hub sessions in the registry.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hubs", Name: "connected",
			Help: "Hub sessions that completed login.",
		}),
	}
}

// Collectors returns the gauges for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Sessions, m.Connected}
}

func (m *Metrics) set(sessions, connected int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(sessions))
	m.Connected.Set(float64(connected))
}
