package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// Status is a snapshot of the deployment target
type Status struct {
	Processes    []types.ProcessInfo      `json:"processes"`
	ProcessError string                   `json:"process_error,omitempty"`
	Live         *types.Release           `json:"live,omitempty"`
	Backups      []*types.Backup          `json:"backups"`
	LastAttempt  *types.DeploymentAttempt `json:"last_attempt,omitempty"`
}

// Status gathers the process table, the live release, the retained backups
// and the last recorded attempt. Only a failing backup listing is an error;
// the rest is reported as far as it is available.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	procs, err := o.deps.Supervisor.Status(ctx)
	if err != nil {
		st.ProcessError = err.Error()
	}
	st.Processes = procs

	if rel, err := o.deps.Supervisor.CurrentRelease(); err == nil {
		st.Live = rel
	} else if !errors.Is(err, types.ErrNotFound) {
		o.logger.Warn().Err(err).Msg("Failed to read live release")
	}

	st.Backups, err = o.deps.Backups.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	if o.deps.Store != nil {
		last, err := o.deps.Store.LastAttempt()
		if err == nil {
			st.LastAttempt = last
		} else if !errors.Is(err, types.ErrNotFound) {
			o.logger.Warn().Err(err).Msg("Failed to read deployment history")
		}
	}
	return st, nil
}

// Logs writes the last lines of the deploy log to w and, with follow,
// keeps streaming appended lines until ctx is done
func (o *Orchestrator) Logs(ctx context.Context, w io.Writer, lines int, follow bool) error {
	if o.opts.LogFile == "" {
		return fmt.Errorf("%w: no deploy log file configured", types.ErrNotFound)
	}
	return log.Tail(ctx, o.opts.LogFile, lines, follow, w)
}

// HealthCheck runs the bounded health probe once
func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	return o.deps.Probe.WaitHealthy(ctx)
}

// History returns up to limit recorded attempts, newest first
func (o *Orchestrator) History(limit int) ([]*types.DeploymentAttempt, error) {
	if o.deps.Store == nil {
		return nil, nil
	}
	return o.deps.Store.ListAttempts(limit)
}

// Backups returns the retained backups, newest first
func (o *Orchestrator) Backups() ([]*types.Backup, error) {
	return o.deps.Backups.List()
}

// Resurrect brings the saved process table back after a host restart
func (o *Orchestrator) Resurrect(ctx context.Context) error {
	return o.deps.Supervisor.Resurrect(ctx)
}
