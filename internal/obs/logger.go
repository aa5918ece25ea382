// Package obs bootstraps the ambient observability stack: a zap logger
// and a Prometheus registry, grounded on the teacher's cmd/production-server
// main.go (environment-switched zap.NewProduction/NewDevelopment) and
// internal/monitoring/prometheus.go (promauto-registered metric families).
// The substrate's own alerting (C1 performance_alert, C4 health_alert) is
// published separately over internal/eventbus; this package only wires
// the process-wide logger and metrics endpoint those sinks' callers share.
package obs

import (
	"go.uber.org/zap"
)

// NewLogger returns a production or development zap.Logger depending on
// environment, matching the teacher's cmd/production-server switch.
func NewLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
