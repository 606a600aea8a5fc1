package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// Reporter runs named checks concurrently and aggregates them into a
// HealthReport. Overall status is healthy only when every check is.
type Reporter struct {
	version string
	started time.Time
	timeout time.Duration

	names    []string
	checkers map[string]Checker
}

// NewReporter creates a reporter. timeout bounds each sub-check; zero
// leaves them bounded only by the caller's context.
func NewReporter(version string, timeout time.Duration) *Reporter {
	return &Reporter{
		version:  version,
		started:  time.Now(),
		timeout:  timeout,
		checkers: make(map[string]Checker),
	}
}

// Add registers a named check, replacing any previous one with that name
func (r *Reporter) Add(name string, c Checker) *Reporter {
	if _, ok := r.checkers[name]; !ok {
		r.names = append(r.names, name)
	}
	r.checkers[name] = c
	return r
}

// Names returns the registered check names in registration order
func (r *Reporter) Names() []string {
	return append([]string(nil), r.names...)
}

// StartedAt returns when the reporter was created
func (r *Reporter) StartedAt() time.Time {
	return r.started
}

// Run executes every check and builds the report. A check never fails the
// group; its failure is carried in its CheckResult.
func (r *Reporter) Run(ctx context.Context) *types.HealthReport {
	var (
		mu      sync.Mutex
		results = make(map[string]types.CheckResult, len(r.names))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range r.names {
		name := name
		checker := r.checkers[name]
		g.Go(func() error {
			checkCtx := gctx
			if r.timeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(gctx, r.timeout)
				defer cancel()
			}
			res := checker.Check(checkCtx)

			mu.Lock()
			results[name] = res.CheckResult()
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	report := &types.HealthReport{
		Status:    types.HealthHealthy,
		Timestamp: now.UTC(),
		Uptime:    now.Sub(r.started).Seconds(),
		Version:   r.version,
		Checks:    results,
	}
	for _, res := range results {
		if res.Status != types.HealthHealthy {
			report.Status = types.HealthUnhealthy
			break
		}
	}
	return report
}
