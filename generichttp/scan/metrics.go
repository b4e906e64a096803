package scan

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ptycholab/ptycholab/acquire"
	"github.com/ptycholab/ptycholab/camera"
	"github.com/ptycholab/ptycholab/trajectory"
)

// Metrics is an acquire.Observer exporting scan progress to prometheus
type Metrics struct {
	mu      sync.Mutex
	started time.Time

	Points   prometheus.Counter
	Failures prometheus.Counter
	Capture  prometheus.Histogram
	State    prometheus.Gauge
	Index    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ptycho",
			Subsystem: "scan",
			Name:      "points_total",
			Help:      "Scan points captured and logged.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ptycho",
			Subsystem: "scan",
			Name:      "failures_total",
			Help:      "Scans ended by an error or an abort.",
		}),
		Capture: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ptycho",
			Subsystem: "scan",
			Name:      "point_duration_seconds",
			Help:      "Time from the start of the move to a point until its frame is written.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ptycho",
			Subsystem: "scan",
			Name:      "state",
			Help:      "Coordinator state: 0 idle, 1 homing, 2 at point, 3 capturing, 4 releasing, 5 finished, 6 aborting.",
		}),
		Index: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ptycho",
			Subsystem: "scan",
			Name:      "point_index",
			Help:      "Index of the point being visited.",
		}),
	}
	reg.MustRegister(m.Points, m.Failures, m.Capture, m.State, m.Index)
	return m
}

// PointStarted implements acquire.Observer
func (m *Metrics) PointStarted(i int, p trajectory.Point) {
	m.mu.Lock()
	m.started = time.Now()
	m.mu.Unlock()
	m.Index.Set(float64(i))
}

// PointCaptured implements acquire.Observer
func (m *Metrics) PointCaptured(i int, p trajectory.Point, w camera.Written) {
	m.mu.Lock()
	d := time.Since(m.started)
	m.mu.Unlock()
	m.Capture.Observe(d.Seconds())
	m.Points.Inc()
}

// StateChanged implements acquire.Observer
func (m *Metrics) StateChanged(s acquire.State) {
	m.State.Set(float64(s))
	if s == acquire.Aborting {
		m.Failures.Inc()
	}
}
