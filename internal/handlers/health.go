package handlers

import (
	"net/http"
	"time"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	now    func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers builds probe handlers. Without a system service readiness reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

// WithHealthSystemService wires the dependency report used by /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the build metadata exposed by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type dependencyPayload struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzResponse struct {
	Status      string                       `json:"status"`
	Checks      map[string]dependencyPayload `json:"checks,omitempty"`
	Details     []string                     `json:"details,omitempty"`
	Version     string                       `json:"version,omitempty"`
	CommitSHA   string                       `json:"commitSha,omitempty"`
	Environment string                       `json:"environment,omitempty"`
	Uptime      string                       `json:"uptime,omitempty"`
	Timestamp   string                       `json:"timestamp"`
}

// Healthz reports liveness without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	writeJSONResponse(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   formatTime(now),
	})
}

// Readyz probes the dependencies. It answers 503 only when the report is in error; a degraded
// report keeps serving and lists the failing dependencies in details.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, readyzResponse{Status: domain.HealthStatusOK, Timestamp: formatTime(now)})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:    domain.HealthStatusError,
			Details:   []string{err.Error()},
			Timestamp: formatTime(now),
		})
		return
	}

	resp := readyzResponse{
		Status:      report.Status,
		Checks:      make(map[string]dependencyPayload, len(report.Dependencies)),
		Details:     report.Failures(),
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Timestamp:   formatTime(now),
	}
	if resp.Status == "" {
		resp.Status = domain.HealthStatusOK
	}
	if report.Uptime > 0 {
		resp.Uptime = report.Uptime.Round(time.Second).String()
	}
	for _, dep := range report.Dependencies {
		resp.Checks[dep.Name] = dependencyPayload{
			Status:    dep.Status,
			Critical:  dep.Critical,
			Detail:    dep.Detail,
			Error:     dep.Error,
			LatencyMS: dep.Latency.Milliseconds(),
			CheckedAt: formatTime(dep.CheckedAt),
		}
	}

	code := http.StatusOK
	if resp.Status == domain.HealthStatusError {
		code = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, code, resp)
}
