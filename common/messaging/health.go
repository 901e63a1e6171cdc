package messaging

import (
	"context"
	"fmt"
	"time"
)

// HealthChecker can check the health of a messaging connection.
type HealthChecker interface {
	// CheckHealth returns nil if the connection is healthy, error otherwise.
	CheckHealth(ctx context.Context) error
}

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	// Connected indicates if the client is connected.
	Connected bool `json:"connected"`

	// Latency is the round-trip time for a health ping.
	Latency time.Duration `json:"latency_ms"`

	// Error contains any error message if unhealthy.
	Error string `json:"error,omitempty"`
}

// CheckClientHealth runs checker and reports the outcome with its latency.
func CheckClientHealth(ctx context.Context, checker HealthChecker) HealthStatus {
	status := HealthStatus{}

	if checker == nil {
		status.Error = "client is nil"
		return status
	}

	start := time.Now()
	err := checker.CheckHealth(ctx)
	status.Latency = time.Since(start)

	if err != nil {
		status.Error = fmt.Sprintf("health check failed: %v", err)
		return status
	}

	status.Connected = true
	return status
}
