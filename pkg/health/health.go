package health

import (
	"context"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP     CheckType = "http"
	CheckTypeTCP      CheckType = "tcp"
	CheckTypeExec     CheckType = "exec"
	CheckTypeArtifact CheckType = "artifact"
	CheckTypeMemory   CheckType = "memory"
	CheckTypeCPU      CheckType = "cpu"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	Value     *float64 // Optional measurement, e.g. usage percent
	CheckedAt time.Time
	Duration  time.Duration
}

// CheckResult converts r into its reported form
func (r Result) CheckResult() types.CheckResult {
	cr := types.CheckResult{
		Status:     types.HealthHealthy,
		Value:      r.Value,
		DurationMs: float64(r.Duration.Microseconds()) / 1000,
	}
	if r.Healthy {
		cr.Message = r.Message
	} else {
		cr.Status = types.HealthUnhealthy
		cr.Error = r.Message
	}
	return cr
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context) Result

func (f CheckerFunc) Check(ctx context.Context) Result { return f(ctx) }

func (f CheckerFunc) Type() CheckType { return "func" }

// Config contains the timing of a bounded health probe
type Config struct {
	// Attempts is the maximum number of checks before giving up
	Attempts int

	// Timeout bounds every single check
	Timeout time.Duration

	// Backoff is the fixed wait between attempts
	Backoff time.Duration
}

// DefaultConfig returns the post-deploy probe defaults
func DefaultConfig() Config {
	return Config{
		Attempts: 10,
		Timeout:  5 * time.Second,
		Backoff:  5 * time.Second,
	}
}

// Status tracks consecutive outcomes of a repeated check
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time

	// Healthy reflects the last outcome
	Healthy bool

	// StartedAt is when monitoring started
	StartedAt time.Time
}

// NewStatus creates a Status that has seen no checks yet
func NewStatus() *Status {
	return &Status{StartedAt: time.Now()}
}

// Update records one outcome and reports whether health flipped. The first
// update always counts as a change.
func (s *Status) Update(healthy bool, at time.Time) bool {
	first := s.LastCheck.IsZero()
	changed := first || s.Healthy != healthy

	s.LastCheck = at
	s.Healthy = healthy
	if healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
	}
	return changed
}
