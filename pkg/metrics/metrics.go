package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeploymentsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployments_created_total",
			Help: "Deployments created, labeled by path (warm/cold).",
		},
		[]string{"path"},
	)

	DeploymentsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deployments_by_status",
			Help: "Current count of deployments in each status.",
		},
		[]string{"status"},
	)

	DependencyUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dependency_up",
			Help: "1 if the dependency last health check succeeded, else 0.",
		},
		[]string{"dependency"},
	)
)

// UpdateDependencyHealth records whether dep was reachable on the most
// recent health sweep.
func UpdateDependencyHealth(dep string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	DependencyUp.WithLabelValues(dep).Set(v)
}
