package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_monitoring_cycles_total",
		Help: "Total number of completed monitoring cycles",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_monitoring_cycle_duration_seconds",
		Help:    "Duration of monitoring cycles",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	problemsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_problems_detected_total",
		Help: "Problems flagged by detectors",
	}, []string{"type", "severity"})

	pluginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_plugin_failures_total",
		Help: "Plugin calls that returned an error during a cycle",
	}, []string{"plugin", "stage"})

	remediationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_remediations_total",
		Help: "Remediation attempts by outcome",
	}, []string{"plugin", "outcome"})
)
