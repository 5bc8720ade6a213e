package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blueprintOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogd_api_blueprint_operations_total",
		Help: "Blueprint operations handled by the API, by operation and outcome.",
	}, []string{"operation", "outcome"})

	authorizationDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogd_api_authorization_denied_total",
		Help: "Requests refused for lack of a capability.",
	}, []string{"capability"})
)

func observe(operation, outcome string, n int) {
	if n <= 0 {
		return
	}
	blueprintOperations.WithLabelValues(operation, outcome).Add(float64(n))
}
