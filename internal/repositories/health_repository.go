package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/tableorder/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. Only a failing Critical check fails readiness.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Check    func(context.Context) error
}

// DependencyHealthOption configures NewDependencyHealthRepository.
type DependencyHealthOption func(*probeSet)

// WithDependencyTimeout sets the timeout for checks that declare none.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.fallbackTimeout = timeout
		}
	}
}

// WithDependencyClock replaces time.Now.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.clock = clock
		}
	}
}

type probeSet struct {
	checks          []DependencyCheck
	fallbackTimeout time.Duration
	clock           func() time.Time
}

var _ HealthRepository = (*probeSet)(nil)

// NewDependencyHealthRepository returns a HealthRepository that runs every check in parallel on
// each Collect. Names must be unique and non-empty.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks")
	}
	names := make(map[string]bool, len(checks))
	for i, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health: check %d has no name", i)
		case check.Check == nil:
			return nil, fmt.Errorf("health: check %q has no probe", name)
		case names[name]:
			return nil, fmt.Errorf("health: check %q is registered twice", name)
		}
		names[name] = true
	}

	p := &probeSet{
		checks:          append([]DependencyCheck(nil), checks...),
		fallbackTimeout: defaultProbeTimeout,
		clock:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *probeSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health: nil context")
	}

	results := make([]domain.DependencyHealth, len(p.checks))
	var g errgroup.Group
	for i, check := range p.checks {
		g.Go(func() error {
			results[i] = p.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	return domain.NewSystemHealthReport(results, p.clock()), nil
}

func (p *probeSet) run(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.fallbackTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.clock()
	err := check.Check(probeCtx)
	if err == nil {
		// A probe that ignored its deadline still counts as timed out.
		err = probeCtx.Err()
	}
	finished := p.clock()

	out := domain.DependencyHealth{
		Name:      check.Name,
		Critical:  check.Critical,
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return out
	}

	out.Error = err.Error()
	out.Detail = describeProbeError(err)
	if check.Critical {
		out.Status = domain.HealthStatusError
	} else {
		out.Status = domain.HealthStatusDegraded
	}
	return out
}

func describeProbeError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "unavailable"
}
