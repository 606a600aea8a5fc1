package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/portfolio-deploy/pkg/events"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/metrics"
	"github.com/cuemby/portfolio-deploy/pkg/runner"
	"github.com/cuemby/portfolio-deploy/pkg/storage"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// Pipeline step names, in execution order
const (
	StepValidate      = "validate-environment"
	StepPreHook       = "pre-hook"
	StepBackup        = "backup"
	StepInstall       = "install-dependencies"
	StepBuild         = "build"
	StepProcessReload = "process-reload"
	StepEdgeReload    = "edge-reload"
	StepHealthCheck   = "post-deploy-health-check"
	StepPostHook      = "post-hook"
	StepCleanup       = "cleanup-old-backups"
)

// Rollback step names
const (
	StepRollbackRestore = "rollback-restore"
	StepRollbackRestart = "rollback-restart"
	StepRollbackEdge    = "rollback-edge-reload"
	StepRollbackHealth  = "rollback-health-check"
)

// Backups snapshots and restores the live artifact set
type Backups interface {
	Create(ctx context.Context) (*types.Backup, error)
	Restore(ctx context.Context, ref *types.Backup) (*types.Release, error)
	Latest() (*types.Backup, error)
	List() ([]*types.Backup, error)
	Cleanup(keep int) ([]*types.Backup, error)
}

// Builder installs dependencies and produces a release
type Builder interface {
	Install(ctx context.Context) error
	Build(ctx context.Context) (*types.Release, error)
	Prune(keep int) (int, error)
}

// Supervisor owns the live release and its processes
type Supervisor interface {
	CurrentRelease() (*types.Release, error)
	Reload(ctx context.Context, rel *types.Release) error
	Restart(ctx context.Context, rel *types.Release) error
	Status(ctx context.Context) ([]types.ProcessInfo, error)
	Resurrect(ctx context.Context) error
}

// EdgeReloader validates and reloads the reverse proxy. Reload may install
// the site config shipped with the source tree; Revert puts back whatever
// Reload replaced since the last Forget and reloads without staging.
type EdgeReloader interface {
	Reload(ctx context.Context) error
	Revert(ctx context.Context) error
	Forget() error
}

// HealthWaiter blocks until the service is healthy or retries run out
type HealthWaiter interface {
	WaitHealthy(ctx context.Context) error
}

// Options configures the orchestrator
type Options struct {
	StateDir      string
	SourceDir     string
	Lockfile      string   // Relative to SourceDir
	ManifestFile  string   // Relative to SourceDir, e.g. package.json
	RequiredTools []string // Must be on PATH and answer a version query
	RequiredDirs  []string // Created when missing

	PreHook  string // Shell command, empty to skip
	PostHook string
	HookEnv  []string

	BackupKeep   int
	KeepReleases int
	Rollback     bool
	HistoryLimit int
	LogFile      string
}

// Deps are the components the pipeline drives. Edge may be nil when no
// reverse proxy is managed; Store and Events are optional.
type Deps struct {
	Backups    Backups
	Builder    Builder
	Supervisor Supervisor
	Edge       EdgeReloader
	Probe      HealthWaiter
	Runner     runner.Runner
	Store      storage.Store
	Events     events.Publisher
}

// Orchestrator sequences the deployment pipeline and its rollback
type Orchestrator struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
}

// New creates an orchestrator
func New(opts Options, deps Deps) *Orchestrator {
	if opts.BackupKeep <= 0 {
		opts.BackupKeep = 5
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	return &Orchestrator{
		opts:   opts,
		deps:   deps,
		logger: log.WithComponent("deploy"),
	}
}

// step is one named unit of the pipeline. run reports skipped when there
// was nothing to do.
type step struct {
	name string
	run  func(ctx context.Context) (skipped bool, err error)
}

// Deploy runs the pipeline once. On failure at or after process-reload the
// previous release is restored when rollback is enabled; earlier failures
// leave the live release untouched. The attempt is returned in every case
// except a held lock.
func (o *Orchestrator) Deploy(ctx context.Context) (*types.DeploymentAttempt, error) {
	unlock, err := acquireLock(filepath.Join(o.opts.StateDir, LockFile))
	if err != nil {
		return nil, err
	}
	defer unlock()

	attempt := types.NewDeploymentAttempt(uuid.New().String(), types.AttemptDeploy)
	logger := log.WithDeploymentID(attempt.ID)
	timer := metrics.NewTimer()

	logger.Info().Msg("Deployment started")
	o.publish(attempt, events.EventDeployStarted, "", 0, "")
	o.saveAttempt(attempt)

	var release *types.Release
	steps := []step{
		{StepValidate, func(ctx context.Context) (bool, error) {
			return false, o.validateEnvironment(ctx)
		}},
		{StepPreHook, func(ctx context.Context) (bool, error) {
			return o.runHook(ctx, o.opts.PreHook)
		}},
		{StepBackup, func(ctx context.Context) (bool, error) {
			b, err := o.deps.Backups.Create(ctx)
			if err != nil {
				return false, err
			}
			attempt.Backup = b
			o.publish(attempt, events.EventBackupCreated, StepBackup, 0, b.ID)
			if o.deps.Edge != nil {
				// The edge config in place now pairs with this backup
				if err := o.deps.Edge.Forget(); err != nil {
					return false, fmt.Errorf("%w: edge snapshot: %v", types.ErrStepFailed, err)
				}
			}
			return false, nil
		}},
		{StepInstall, func(ctx context.Context) (bool, error) {
			return false, o.deps.Builder.Install(ctx)
		}},
		{StepBuild, func(ctx context.Context) (bool, error) {
			rel, err := o.deps.Builder.Build(ctx)
			if err != nil {
				return false, err
			}
			release = rel
			attempt.ReleaseID = rel.ID
			return false, nil
		}},
		{StepProcessReload, func(ctx context.Context) (bool, error) {
			if err := o.deps.Supervisor.Reload(ctx, release); err != nil {
				return false, err
			}
			o.publish(attempt, events.EventReleaseLive, StepProcessReload, 0, release.ID)
			return false, nil
		}},
		{StepEdgeReload, func(ctx context.Context) (bool, error) {
			if o.deps.Edge == nil {
				return true, nil
			}
			return false, o.deps.Edge.Reload(ctx)
		}},
		{StepHealthCheck, func(ctx context.Context) (bool, error) {
			return false, o.deps.Probe.WaitHealthy(ctx)
		}},
		{StepPostHook, func(ctx context.Context) (bool, error) {
			return o.runHook(ctx, o.opts.PostHook)
		}},
		{StepCleanup, func(ctx context.Context) (bool, error) {
			return false, o.cleanup(attempt)
		}},
	}

	failed, stepErr := o.runSteps(ctx, attempt, logger, steps)
	if stepErr == nil {
		attempt.Succeed()
		logger.Info().
			Str("release_id", attempt.ReleaseID).
			Dur("duration", timer.Duration()).
			Msg("Deployment succeeded")
		o.publish(attempt, events.EventDeploySucceeded, "", timer.Duration(), attempt.ReleaseID)
		o.saveAttempt(attempt)
		return attempt, nil
	}

	derr := &Error{AttemptID: attempt.ID, Step: failed, Err: stepErr}

	if o.opts.Rollback && touchesLive(failed) {
		rbErr := o.rollback(ctx, attempt, logger, attempt.Backup)
		attempt.FailedStep = failed
		attempt.Error = stepErr.Error()
		attempt.RolledBack(rbErr)
		derr.RolledBack = true
		derr.RollbackErr = rbErr
	} else {
		if !o.opts.Rollback && touchesLive(failed) {
			logger.Warn().Msg("Rollback disabled, leaving failed release in place")
		}
		attempt.Fail()
	}

	logger.Error().
		Str("step", failed).
		Err(stepErr).
		Bool("rolled_back", derr.RolledBack).
		AnErr("rollback_error", derr.RollbackErr).
		Dur("duration", timer.Duration()).
		Msg("Deployment failed")
	o.publish(attempt, events.EventDeployFailed, failed, timer.Duration(), stepErr.Error())
	o.saveAttempt(attempt)
	return attempt, derr
}

// touchesLive reports whether a failure at step happened after the live
// release may have changed
func touchesLive(step string) bool {
	switch step {
	case StepValidate, StepPreHook, StepBackup, StepInstall, StepBuild:
		return false
	}
	return true
}

// runSteps executes steps in order and stops at the first failure,
// returning its name and error
func (o *Orchestrator) runSteps(ctx context.Context, attempt *types.DeploymentAttempt, logger zerolog.Logger, steps []step) (string, error) {
	for _, st := range steps {
		if err := o.runStep(ctx, attempt, logger, st); err != nil {
			return st.name, err
		}
	}
	return "", nil
}

func (o *Orchestrator) runStep(ctx context.Context, attempt *types.DeploymentAttempt, logger zerolog.Logger, st step) error {
	stepLogger := log.WithStep(logger, st.name)
	timer := metrics.NewTimer()

	attempt.Begin(st.name)
	o.publish(attempt, events.EventStepStarted, st.name, 0, "")
	stepLogger.Info().Msg("Step started")

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %v", types.ErrStepFailed, err)
		o.failStep(attempt, stepLogger, st.name, timer, err)
		return err
	}

	skipped, err := st.run(ctx)
	if err != nil {
		o.failStep(attempt, stepLogger, st.name, timer, err)
		return err
	}

	attempt.Complete(nil, skipped)
	if skipped {
		stepLogger.Info().Msg("Step skipped")
		o.publish(attempt, events.EventStepSkipped, st.name, timer.Duration(), "")
	} else {
		stepLogger.Info().Dur("duration", timer.Duration()).Msg("Step succeeded")
		o.publish(attempt, events.EventStepSucceeded, st.name, timer.Duration(), "")
	}
	o.saveAttempt(attempt)
	return nil
}

func (o *Orchestrator) failStep(attempt *types.DeploymentAttempt, logger zerolog.Logger, name string, timer *metrics.Timer, err error) {
	attempt.Complete(err, false)

	ev := logger.Error().Err(err).Dur("duration", timer.Duration())
	var cmdErr *runner.Error
	if errors.As(err, &cmdErr) {
		ev = ev.Str("command", cmdErr.Command).Int("exit_code", cmdErr.ExitCode)
	}
	ev.Msg("Step failed")

	o.publish(attempt, events.EventStepFailed, name, timer.Duration(), err.Error())
	o.saveAttempt(attempt)
}

// runHook runs a shell hook in the source directory. An empty hook is
// skipped.
func (o *Orchestrator) runHook(ctx context.Context, script string) (bool, error) {
	if script == "" {
		return true, nil
	}
	cmd := runner.Shell(script)
	cmd.Dir = o.opts.SourceDir
	cmd.Env = o.opts.HookEnv
	if _, err := o.deps.Runner.Run(ctx, cmd); err != nil {
		return false, fmt.Errorf("%w: hook: %w", types.ErrStepFailed, err)
	}
	return false, nil
}

// cleanup enforces backup retention and prunes leftover staged releases
func (o *Orchestrator) cleanup(attempt *types.DeploymentAttempt) error {
	removed, err := o.deps.Backups.Cleanup(o.opts.BackupKeep)
	if err != nil {
		return fmt.Errorf("%w: backup cleanup: %v", types.ErrStepFailed, err)
	}

	retained := -1
	if list, err := o.deps.Backups.List(); err == nil {
		retained = len(list)
	}
	o.logger.Info().
		Int("removed", len(removed)).
		Int("retained", retained).
		Int("keep", o.opts.BackupKeep).
		Msg("Old backups cleaned up")
	o.deps.Events.Publish(&events.Event{
		Type:         events.EventBackupsPruned,
		DeploymentID: attempt.ID,
		Step:         StepCleanup,
		Metadata:     map[string]string{"retained": strconv.Itoa(retained), "removed": strconv.Itoa(len(removed))},
	})

	if o.opts.KeepReleases > 0 {
		if n, err := o.deps.Builder.Prune(o.opts.KeepReleases); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to prune staged releases")
		} else if n > 0 {
			o.logger.Debug().Int("removed", n).Msg("Staged releases pruned")
		}
	}
	return nil
}

func (o *Orchestrator) saveAttempt(attempt *types.DeploymentAttempt) {
	if o.deps.Store == nil {
		return
	}
	if err := o.deps.Store.SaveAttempt(attempt); err != nil {
		o.logger.Warn().Err(err).Str("deployment_id", attempt.ID).Msg("Failed to record deployment history")
		return
	}
	if attempt.Finished() && o.opts.HistoryLimit > 0 {
		if _, err := o.deps.Store.PruneAttempts(o.opts.HistoryLimit); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to prune deployment history")
		}
	}
}
