package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spwatcher/spwatcher/internal/core/cursor"
	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// Checker reports whether one dependency is reachable.
type Checker interface {
	Health(ctx context.Context) error
}

// Component pairs a dependency with how its failures count. Required
// components (the database) take the system critical when down; optional
// ones (redis) only degrade it.
type Component struct {
	Name     string
	Checker  Checker
	Required bool
}

// Monitor aggregates health status from the cursor and dependencies.
type Monitor struct {
	cursorMgr  cursor.Manager
	components []Component

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a new health monitor.
func NewMonitor(cursorMgr cursor.Manager, components ...Component) *Monitor {
	return &Monitor{
		cursorMgr:  cursorMgr,
		components: components,
	}
}

// CheckHealth performs a health check, cached for 10s to keep probe
// traffic off the dependencies.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && !m.lastReport.CheckedAt.IsZero() {
		return m.lastReport
	}

	report := Report{
		Status:    StatusHealthy,
		CheckedAt: time.Now(),
	}

	cur, err := m.cursorMgr.Get(ctx)
	switch {
	case errors.Is(err, cursor.ErrCursorNotFound):
		// No blocks committed yet; starting up is not a failure.
		report.CursorState = "uninitialized"
	case err != nil:
		report.Status = StatusCritical
		report.CursorState = "unknown"
	default:
		report.Height = cur.Height
		report.CursorState = string(cur.State)
		if cur.State == domain.CursorStatePaused {
			report.Status = StatusDegraded
		}
	}

	metrics := m.cursorMgr.GetMetrics()
	report.BlocksPerSecond = metrics.BlocksPerSecond

	for _, comp := range m.components {
		ch := ComponentHealth{Name: comp.Name, Status: StatusHealthy}
		if err := comp.Checker.Health(ctx); err != nil {
			ch.Error = err.Error()
			if comp.Required {
				ch.Status = StatusCritical
				report.Status = StatusCritical
			} else {
				ch.Status = StatusDegraded
				if report.Status == StatusHealthy {
					report.Status = StatusDegraded
				}
			}
		}
		report.Components = append(report.Components, ch)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
