// Package monitoring exposes Prometheus metrics for cycler execution,
// telemetry delivery, and fault handling.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Construct it once per process;
// promauto registers on the default registry.
type Metrics struct {
	// Cycler metrics
	TicksTotal       *prometheus.CounterVec
	TickDuration     *prometheus.HistogramVec
	ModuleErrors     *prometheus.CounterVec
	SkippedPublishes *prometheus.CounterVec

	// Telemetry metrics
	FramesDropped     *prometheus.CounterVec
	SubscribersActive *prometheus.GaugeVec

	// Fault metrics
	ActuationHalted prometheus.Gauge
	StalenessTrips  *prometheus.CounterVec

	// Parameter metrics
	ParameterGeneration prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		TicksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclekit_ticks_total",
				Help: "Completed (published) ticks per cycler",
			},
			[]string{"cycler"},
		),
		TickDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyclekit_tick_duration_seconds",
				Help:    "Tick execution duration per cycler",
				Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"cycler"},
		),
		ModuleErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclekit_module_errors_total",
				Help: "Module execution errors per cycler and module",
			},
			[]string{"cycler", "module"},
		),
		SkippedPublishes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclekit_skipped_publishes_total",
				Help: "Ticks whose publication was skipped after an error",
			},
			[]string{"cycler"},
		),

		FramesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclekit_telemetry_frames_dropped_total",
				Help: "Telemetry frames overwritten before delivery, per cycler",
			},
			[]string{"cycler"},
		),
		SubscribersActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cyclekit_telemetry_subscribers",
				Help: "Active telemetry subscribers per cycler",
			},
			[]string{"cycler"},
		),

		ActuationHalted: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cyclekit_actuation_halted",
				Help: "1 while the fault handler holds actuation halted",
			},
		),
		StalenessTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclekit_staleness_trips_total",
				Help: "Watchdog escalations for stale cycler output",
			},
			[]string{"cycler"},
		),

		ParameterGeneration: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cyclekit_parameter_generation",
				Help: "Current committed parameter store generation",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cyclekit_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
