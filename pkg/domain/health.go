package domain

import (
	"fmt"
	"time"
)

// DependencyStatus is the result of one liveness probe
type DependencyStatus struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	LatencyMs float64   `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthReport aggregates dependency probe results
type HealthReport struct {
	Dependencies []DependencyStatus `json:"dependencies"`
	Healthy      bool               `json:"healthy"`
	CheckedAt    time.Time          `json:"checked_at"`
}

// NewHealthReport builds a report whose Healthy flag is true only if every
// dependency is healthy. An empty report is healthy.
func NewHealthReport(deps []DependencyStatus, at time.Time) HealthReport {
	healthy := true
	for _, d := range deps {
		if !d.Healthy {
			healthy = false
			break
		}
	}
	return HealthReport{Dependencies: deps, Healthy: healthy, CheckedAt: at}
}

// Unhealthy returns one DependencyUnhealthyError per failing dependency.
func (r HealthReport) Unhealthy() []*DependencyUnhealthyError {
	var errs []*DependencyUnhealthyError
	for _, d := range r.Dependencies {
		if !d.Healthy {
			errs = append(errs, &DependencyUnhealthyError{Name: d.Name, Reason: d.Error})
		}
	}
	return errs
}

// DependencyUnhealthyError describes a failing dependency. It is only ever
// surfaced through HealthReport, never returned from an operation.
type DependencyUnhealthyError struct {
	Name   string
	Reason string
}

func (e *DependencyUnhealthyError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("dependency %s is unhealthy", e.Name)
	}
	return fmt.Sprintf("dependency %s is unhealthy: %s", e.Name, e.Reason)
}
