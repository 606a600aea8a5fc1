package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/portfolio-deploy/pkg/events"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/metrics"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// Rollback restores the most recent backup outside of a deployment. Any
// failure, including a missing backup, matches types.ErrRollbackFailed.
func (o *Orchestrator) Rollback(ctx context.Context) (*types.DeploymentAttempt, error) {
	unlock, err := acquireLock(filepath.Join(o.opts.StateDir, LockFile))
	if err != nil {
		return nil, err
	}
	defer unlock()

	attempt := types.NewDeploymentAttempt(uuid.New().String(), types.AttemptRollback)
	logger := log.WithDeploymentID(attempt.ID)
	timer := metrics.NewTimer()

	logger.Info().Msg("Rollback requested")
	o.publish(attempt, events.EventDeployStarted, "", 0, "")

	err = o.rollback(ctx, attempt, logger, nil)
	if err != nil {
		attempt.Fail()
		o.publish(attempt, events.EventDeployFailed, attempt.FailedStep, timer.Duration(), err.Error())
	} else {
		attempt.Succeed()
		o.publish(attempt, events.EventDeploySucceeded, "", timer.Duration(), attempt.ReleaseID)
	}
	o.saveAttempt(attempt)
	return attempt, err
}

// rollback restores ref (or the latest backup when ref is nil), restarts the
// processes from it, reverts and reloads the edge and re-probes health. It runs once;
// any failure is returned wrapped in types.ErrRollbackFailed.
func (o *Orchestrator) rollback(ctx context.Context, attempt *types.DeploymentAttempt, logger zerolog.Logger, ref *types.Backup) error {
	logger.Warn().Msg("Rolling back to previous release")
	o.publish(attempt, events.EventRollbackStarted, "", 0, "")
	timer := metrics.NewTimer()

	var restored *types.Release
	steps := []step{
		{StepRollbackRestore, func(ctx context.Context) (bool, error) {
			if ref == nil {
				latest, err := o.deps.Backups.Latest()
				if err != nil {
					return false, err
				}
				ref = latest
			}
			attempt.Backup = ref
			rel, err := o.deps.Backups.Restore(ctx, ref)
			if err != nil {
				return false, err
			}
			restored = rel
			attempt.ReleaseID = rel.ID
			return false, nil
		}},
		{StepRollbackRestart, func(ctx context.Context) (bool, error) {
			if err := o.deps.Supervisor.Restart(ctx, restored); err != nil {
				return false, err
			}
			o.publish(attempt, events.EventReleaseLive, StepRollbackRestart, 0, restored.ID)
			return false, nil
		}},
		{StepRollbackEdge, func(ctx context.Context) (bool, error) {
			if o.deps.Edge == nil {
				return true, nil
			}
			return false, o.deps.Edge.Revert(ctx)
		}},
		{StepRollbackHealth, func(ctx context.Context) (bool, error) {
			return false, o.deps.Probe.WaitHealthy(ctx)
		}},
	}

	// A cancelled deployment still gets its rollback
	rbCtx := context.WithoutCancel(ctx)

	failed, err := o.runSteps(rbCtx, attempt, logger, steps)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", types.ErrRollbackFailed, failed, err)
		logger.Error().
			Err(err).
			Str("step", failed).
			Msg("Rollback failed, manual intervention required")
		o.publish(attempt, events.EventRollbackFailed, failed, timer.Duration(), err.Error())
		return err
	}

	logger.Info().
		Str("backup_id", ref.ID).
		Str("release_id", attempt.ReleaseID).
		Dur("duration", timer.Duration()).
		Msg("Rollback succeeded")
	o.publish(attempt, events.EventRollbackSucceeded, "", timer.Duration(), ref.ID)
	return nil
}

func (o *Orchestrator) publish(attempt *types.DeploymentAttempt, typ events.EventType, step string, d time.Duration, msg string) {
	o.deps.Events.Publish(&events.Event{
		Type:         typ,
		DeploymentID: attempt.ID,
		Step:         step,
		Duration:     d,
		Message:      msg,
		Metadata:     map[string]string{"kind": string(attempt.Kind)},
	})
}

