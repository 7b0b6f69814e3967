// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth contains the health state of one dependency.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Report contains the full system health report.
type Report struct {
	Status          SystemStatus      `json:"status"`
	Height          uint64            `json:"height"`
	CursorState     string            `json:"cursor_state"`
	BlocksPerSecond float64           `json:"blocks_per_second"`
	Components      []ComponentHealth `json:"components"`
	CheckedAt       time.Time         `json:"checked_at"`
}
