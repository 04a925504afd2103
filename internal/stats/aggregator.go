// Package stats turns the process-wide byte counters into the per-tick
// throughput snapshot shown in the status bar.
package stats

import "github.com/prometheus/client_golang/prometheus"

// MinElapsed is the smallest tick interval, in milliseconds, used as a
// divisor. Shorter or backwards intervals are clamped to it.
const MinElapsed uint64 = 1

// Status bar labels.
const (
	LabelDown      = "DOWN"
	LabelUp        = "UP"
	LabelHubs      = "STATS"
	LabelDownSpeed = "DSPEED"
	LabelUpSpeed   = "USPEED"
)

// State is what the aggregator keeps between ticks.
type State struct {
	LastDown int64
	LastUp   int64
	LastTick uint64
}

// Snapshot is the throughput summary for one tick.
type Snapshot struct {
	TotalDown int64
	TotalUp   int64
	DownRate  int64 // bytes per second
	UpRate    int64 // bytes per second
	Hubs      string
	Tick      uint64
}

// Labels renders the snapshot for the display layer.
func (s Snapshot) Labels() map[string]string {
	return map[string]string{
		LabelDown:      FormatBytes(s.TotalDown),
		LabelUp:        FormatBytes(s.TotalUp),
		LabelHubs:      s.Hubs,
		LabelDownSpeed: FormatRate(s.DownRate),
		LabelUpSpeed:   FormatRate(s.UpRate),
	}
}

// Compute derives a snapshot from the previous state and the current
// counters. now is a millisecond tick. Rates are never negative.
func Compute(prev State, down, up int64, now uint64, hubs string) (Snapshot, State) {
	elapsed := MinElapsed
	if now > prev.LastTick && now-prev.LastTick > MinElapsed {
		elapsed = now - prev.LastTick
	}

	snap := Snapshot{
		TotalDown: down,
		TotalUp:   up,
		DownRate:  rate(down, prev.LastDown, elapsed),
		UpRate:    rate(up, prev.LastUp, elapsed),
		Hubs:      hubs,
		Tick:      now,
	}
	return snap, State{LastDown: down, LastUp: up, LastTick: now}
}

func rate(cur, last int64, elapsed uint64) int64 {
	if cur <= last {
		return 0
	}
	return (cur - last) * 1000 / int64(elapsed)
}

// Aggregator owns the state between ticks. It is driven by a single timer
// goroutine and is not safe for concurrent Tick calls.
type Aggregator struct {
	state   State
	metrics *Metrics
}

// NewAggregator starts from the given state.
func NewAggregator(initial State, m *Metrics) *Aggregator {
	return &Aggregator{state: initial, metrics: m}
}

// Tick computes the snapshot for this tick and retains the new state.
func (a *Aggregator) Tick(down, up int64, now uint64, hubs string) Snapshot {
	snap, next := Compute(a.state, down, up, now, hubs)
	a.state = next
	a.metrics.observe(snap)
	return snap
}

// State returns the retained values.
func (a *Aggregator) State() State {
	return a.state
}

// Metrics exports the latest snapshot as gauges.
type Metrics struct {
	DownRate  prometheus.Gauge
	UpRate    prometheus.Gauge
	TotalDown prometheus.Gauge
	TotalUp   prometheus.Gauge
}

// NewMetrics builds unregistered gauges under namespace.
func NewMetrics(namespace string) *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "traffic", Name: name, Help: help})
	}
	return &Metrics{
		DownRate:  gauge("down_bytes_per_second", "Download rate over the last tick."),
		UpRate:    gauge("up_bytes_per_second", "Upload rate over the last tick."),
		TotalDown: gauge("down_bytes", "Bytes received since start."),
		TotalUp:   gauge("up_bytes", "Bytes sent since start."),
	}
}

// Collectors returns the gauges for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.DownRate, m.UpRate, m.TotalDown, m.TotalUp}
}

func (m *Metrics) observe(s Snapshot) {
	if m == nil {
		return
	}
	m.DownRate.Set(float64(s.DownRate))
	m.UpRate.Set(float64(s.UpRate))
	m.TotalDown.Set(float64(s.TotalDown))
	m.TotalUp.Set(float64(s.TotalUp))
}
