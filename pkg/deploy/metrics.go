package deploy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_deployments_total",
		Help: "Deployments by strategy and terminal status",
	}, []string{"strategy", "status"})

	deploymentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_deployment_duration_seconds",
		Help:    "Wall time from deployment start to terminal status",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	activeDeployments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_deployments_in_progress",
		Help: "Deployments currently in progress",
	})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_rollbacks_total",
		Help: "Rollbacks performed, from failed steps or monitoring triggers",
	})
)
