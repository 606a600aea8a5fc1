package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// State is the probe's position in its lifecycle
type State string

const (
	StateUnknown   State = "unknown"
	StateChecking  State = "checking"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// Probe runs a checker with bounded retries.
//
//	Unknown ──Check──▶ Checking ──ok──▶ Healthy
//	                       │
//	                       └──fail──▶ Unhealthy ──Check──▶ Checking ...
type Probe struct {
	checker Checker
	config  Config
	logger  zerolog.Logger

	mu       sync.RWMutex
	state    State
	last     Result
	attempts int
}

// NewProbe creates a probe in the Unknown state
func NewProbe(checker Checker, cfg Config) *Probe {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Probe{
		checker: checker,
		config:  cfg,
		logger:  log.WithComponent("health-probe"),
		state:   StateUnknown,
	}
}

// State returns the current probe state
func (p *Probe) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Last returns the most recent result and the number of attempts made by
// the last WaitHealthy call
func (p *Probe) Last() (Result, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.attempts
}

// Check performs a single attempt bounded by the configured timeout
func (p *Probe) Check(ctx context.Context) Result {
	p.setState(StateChecking)

	checkCtx := ctx
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}
	result := p.checker.Check(checkCtx)

	p.mu.Lock()
	p.last = result
	if result.Healthy {
		p.state = StateHealthy
	} else {
		p.state = StateUnhealthy
	}
	p.mu.Unlock()

	return result
}

// WaitHealthy checks until healthy, giving up after Attempts checks spaced by
// Backoff. Exhaustion returns an error matching types.ErrHealthCheckTimeout.
func (p *Probe) WaitHealthy(ctx context.Context) error {
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()

	// NewConstant rejects non-positive durations
	backoff := max(p.config.Backoff, time.Nanosecond)
	b := retry.WithMaxRetries(uint64(p.config.Attempts-1), retry.NewConstant(backoff))

	var last Result
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		p.mu.Lock()
		p.attempts++
		attempt := p.attempts
		p.mu.Unlock()

		last = p.Check(ctx)
		if last.Healthy {
			p.logger.Info().
				Int("attempt", attempt).
				Str("check", string(p.checker.Type())).
				Msg("Health check passed")
			return nil
		}

		p.logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", p.config.Attempts).
			Str("check", string(p.checker.Type())).
			Str("reason", last.Message).
			Msg("Health check failed")
		return retry.RetryableError(errors.New(last.Message))
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", types.ErrHealthCheckTimeout, ctxErr)
	}
	_, attempts := p.Last()
	return fmt.Errorf("%w: unhealthy after %d attempts: %s",
		types.ErrHealthCheckTimeout, attempts, last.Message)
}

func (p *Probe) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
