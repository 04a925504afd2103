package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors for a queue. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Posted   prometheus.Counter
	Executed prometheus.Counter
	Dropped  prometheus.Counter
	Panics   prometheus.Counter
	Pending  prometheus.Gauge
}

// NewMetrics builds unregistered collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Posted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "posted_total",
			Help: "Calls accepted by the dispatch queue.",
		}),
		Executed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "executed_total",
			Help: "Calls executed by the consumer.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "dropped_total",
			Help: "Calls dropped because the queue was closed.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "panics_total",
			Help: "Calls that panicked under a recovering consumer.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "pending",
			Help: "Calls waiting to be executed.",
		}),
	}
}

// Collectors returns every collector so callers can register them.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Posted, m.Executed, m.Dropped, m.Panics, m.Pending}
}

func (m *Metrics) posted(pending int) {
	if m == nil {
		return
	}
	m.Posted.Inc()
	m.Pending.Set(float64(pending))
}

func (m *Metrics) setPending(pending int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(pending))
}

func (m *Metrics) executed() {
	if m == nil {
		return
	}
	m.Executed.Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) panicked() {
	if m == nil {
		return
	}
	m.Panics.Inc()
}
