package domain

import (
	"slices"
	"strings"
	"time"
)

// Health states reported by /readyz.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// DependencyHealth is the result of probing one backing dependency.
type DependencyHealth struct {
	Name      string
	Critical  bool
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// Healthy reports whether the probe succeeded.
func (d DependencyHealth) Healthy() bool {
	return d.Status == HealthStatusOK
}

// SystemHealthReport is the readiness snapshot. Dependencies are ordered by name.
type SystemHealthReport struct {
	Status       string
	Dependencies []DependencyHealth
	Version      string
	CommitSHA    string
	Environment  string
	Uptime       time.Duration
	GeneratedAt  time.Time
}

// NewSystemHealthReport orders deps by name and derives the overall status: a failed critical
// dependency is an error, any other failure only degrades the report.
func NewSystemHealthReport(deps []DependencyHealth, at time.Time) SystemHealthReport {
	sorted := slices.Clone(deps)
	slices.SortFunc(sorted, func(a, b DependencyHealth) int { return strings.Compare(a.Name, b.Name) })

	status := HealthStatusOK
	for _, dep := range sorted {
		if dep.Healthy() {
			continue
		}
		if dep.Critical || dep.Status == HealthStatusError {
			status = HealthStatusError
			break
		}
		status = HealthStatusDegraded
	}
	return SystemHealthReport{Status: status, Dependencies: sorted, GeneratedAt: at}
}

// Failures lists "name: error" for every unhealthy dependency.
func (r SystemHealthReport) Failures() []string {
	var out []string
	for _, dep := range r.Dependencies {
		if dep.Healthy() {
			continue
		}
		reason := dep.Error
		if reason == "" {
			reason = dep.Detail
		}
		out = append(out, dep.Name+": "+reason)
	}
	return out
}
