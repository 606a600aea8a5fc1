package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/portfolio-deploy/pkg/events"
	"github.com/cuemby/portfolio-deploy/pkg/runner"
	"github.com/cuemby/portfolio-deploy/pkg/storage"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

type fakeBackups struct {
	mu         sync.Mutex
	backups    []*types.Backup // Oldest first
	restored   []*types.Backup
	seq        int
	createErr  error
	restoreErr error
}

func (f *fakeBackups) Create(ctx context.Context) (*types.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	b := &types.Backup{ID: fmt.Sprintf("backup-%d", f.seq), Dir: fmt.Sprintf("/backups/backup-%d", f.seq)}
	f.backups = append(f.backups, b)
	return b, nil
}

func (f *fakeBackups) Restore(ctx context.Context, ref *types.Backup) (*types.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return nil, f.restoreErr
	}
	f.restored = append(f.restored, ref)
	return &types.Release{ID: "restored-" + ref.ID, Dir: "/staging/" + ref.ID, Source: "backup:" + ref.ID}, nil
}

func (f *fakeBackups) Latest() (*types.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backups) == 0 {
		return nil, fmt.Errorf("%w: no backups", types.ErrBackupNotFound)
	}
	return f.backups[len(f.backups)-1], nil
}

func (f *fakeBackups) List() ([]*types.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Backup, 0, len(f.backups))
	for i := len(f.backups) - 1; i >= 0; i-- {
		out = append(out, f.backups[i])
	}
	return out, nil
}

func (f *fakeBackups) Cleanup(keep int) ([]*types.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backups) <= keep {
		return nil, nil
	}
	n := len(f.backups) - keep
	removed := append([]*types.Backup(nil), f.backups[:n]...)
	f.backups = f.backups[n:]
	return removed, nil
}

type fakeBuilder struct {
	installErr error
	buildErr   error
	builds     int
	pruned     []int
}

func (f *fakeBuilder) Install(ctx context.Context) error { return f.installErr }

func (f *fakeBuilder) Build(ctx context.Context) (*types.Release, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.builds++
	id := fmt.Sprintf("release-%d", f.builds)
	return &types.Release{ID: id, Dir: "/releases/" + id, Source: "build"}, nil
}

func (f *fakeBuilder) Prune(keep int) (int, error) {
	f.pruned = append(f.pruned, keep)
	return 0, nil
}

type fakeSupervisor struct {
	reloadErr   error
	restartErr  error
	statusErr   error
	reloaded    []*types.Release
	restarted   []*types.Release
	live        *types.Release
	resurrected int
}

func (f *fakeSupervisor) CurrentRelease() (*types.Release, error) {
	if f.live == nil {
		return nil, types.ErrNotFound
	}
	return f.live, nil
}

func (f *fakeSupervisor) Reload(ctx context.Context, rel *types.Release) error {
	f.reloaded = append(f.reloaded, rel)
	if f.reloadErr != nil {
		return f.reloadErr
	}
	f.live = rel
	return nil
}

func (f *fakeSupervisor) Restart(ctx context.Context, rel *types.Release) error {
	f.restarted = append(f.restarted, rel)
	if f.restartErr != nil {
		return f.restartErr
	}
	f.live = rel
	return nil
}

func (f *fakeSupervisor) Status(ctx context.Context) ([]types.ProcessInfo, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return []types.ProcessInfo{{Name: "portfolio", ID: 0, Status: types.ProcessOnline}}, nil
}

func (f *fakeSupervisor) Resurrect(ctx context.Context) error {
	f.resurrected++
	return nil
}

type fakeEdge struct {
	err       error
	revertErr error
	calls     int
	reverts   int
	forgets   int
}

func (f *fakeEdge) Reload(ctx context.Context) error {
	f.calls++
	return f.err
}

func (f *fakeEdge) Revert(ctx context.Context) error {
	f.reverts++
	return f.revertErr
}

func (f *fakeEdge) Forget() error {
	f.forgets++
	return nil
}

// fakeProbe returns errs in order, then nil
type fakeProbe struct {
	errs  []error
	calls int
}

func (f *fakeProbe) WaitHealthy(ctx context.Context) error {
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) Publish(ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) find(typ events.EventType) *events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == typ {
			return ev
		}
	}
	return nil
}

type fixture struct {
	o       *Orchestrator
	opts    Options
	backups *fakeBackups
	builder *fakeBuilder
	sup     *fakeSupervisor
	edge    *fakeEdge
	probe   *fakeProbe
	runner  *runner.Fake
	store   *storage.BoltStore
	events  *recorder
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	root := t.TempDir()

	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "package.json"), []byte(`{"name":"portfolio"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "package-lock.json"), []byte(`{}`), 0644))

	opts := Options{
		StateDir:      filepath.Join(root, "state"),
		SourceDir:     src,
		Lockfile:      "package-lock.json",
		ManifestFile:  "package.json",
		RequiredTools: []string{"node", "npm"},
		RequiredDirs:  []string{filepath.Join(root, "backups")},
		BackupKeep:    5,
		KeepReleases:  2,
		Rollback:      true,
		HistoryLimit:  10,
	}
	if mutate != nil {
		mutate(&opts)
	}

	store, err := storage.NewBoltStore(opts.StateDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fake := runner.NewFake()
	fake.AddPath("node", "npm")

	f := &fixture{
		opts:    opts,
		backups: &fakeBackups{},
		builder: &fakeBuilder{},
		sup:     &fakeSupervisor{},
		edge:    &fakeEdge{},
		probe:   &fakeProbe{},
		runner:  fake,
		store:   store,
		events:  &recorder{},
	}
	f.o = New(opts, f.deps())
	return f
}

func (f *fixture) deps() Deps {
	return Deps{
		Backups:    f.backups,
		Builder:    f.builder,
		Supervisor: f.sup,
		Edge:       f.edge,
		Probe:      f.probe,
		Runner:     f.runner,
		Store:      f.store,
		Events:     f.events,
	}
}

func stepNames(a *types.DeploymentAttempt) []string {
	names := make([]string, len(a.Steps))
	for i, s := range a.Steps {
		names[i] = s.Name
	}
	return names
}

func TestDeploySuccess(t *testing.T) {
	f := newFixture(t, nil)

	attempt, err := f.o.Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))

	assert.Equal(t, types.AttemptSucceeded, attempt.State)
	assert.Equal(t, []string{
		StepValidate, StepPreHook, StepBackup, StepInstall, StepBuild,
		StepProcessReload, StepEdgeReload, StepHealthCheck, StepPostHook, StepCleanup,
	}, stepNames(attempt))
	assert.True(t, attempt.Steps[1].Skipped, "empty pre-hook is skipped")
	assert.True(t, attempt.Steps[8].Skipped, "empty post-hook is skipped")
	assert.Equal(t, "release-1", attempt.ReleaseID)
	require.NotNil(t, attempt.Backup)
	assert.Equal(t, "backup-1", attempt.Backup.ID)

	assert.Len(t, f.sup.reloaded, 1)
	assert.Empty(t, f.sup.restarted)
	assert.Empty(t, f.backups.restored)
	assert.Equal(t, 1, f.edge.calls)
	assert.Equal(t, 0, f.edge.reverts)
	assert.Equal(t, 1, f.edge.forgets, "backup pairs with the installed edge config")
	assert.Equal(t, 1, f.probe.calls)
	assert.Equal(t, []int{2}, f.builder.pruned)
	assert.Equal(t, 1, f.runner.Count("node --version"))
	assert.Equal(t, 1, f.runner.Count("npm --version"))

	evs := f.events.types()
	require.NotEmpty(t, evs)
	assert.Equal(t, events.EventDeployStarted, evs[0])
	assert.Equal(t, events.EventDeploySucceeded, evs[len(evs)-1])
	assert.Contains(t, evs, events.EventBackupCreated)
	assert.Contains(t, evs, events.EventReleaseLive)
	assert.NotContains(t, evs, events.EventRollbackStarted)

	last, err := f.store.LastAttempt()
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, last.ID)
	assert.Equal(t, types.AttemptSucceeded, last.State)
}

func TestDeployRunsHooks(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.PreHook = "./scripts/pre.sh"
		o.PostHook = "./scripts/post.sh"
		o.HookEnv = []string{"DEPLOY_ENV=production"}
	})

	attempt, err := f.o.Deploy(context.Background())
	require.NoError(t, err)
	assert.False(t, attempt.Steps[1].Skipped)
	assert.False(t, attempt.Steps[8].Skipped)

	var hooks []runner.Command
	for _, c := range f.runner.Commands() {
		if c.Name == "sh" {
			hooks = append(hooks, c)
		}
	}
	require.Len(t, hooks, 2)
	assert.Equal(t, "sh -c ./scripts/pre.sh", hooks[0].String())
	assert.Equal(t, "sh -c ./scripts/post.sh", hooks[1].String())
	assert.Equal(t, f.opts.SourceDir, hooks[0].Dir)
	assert.Equal(t, []string{"DEPLOY_ENV=production"}, hooks[0].Env)
}

func TestDeployPreHookFailure(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.PreHook = "./scripts/pre.sh" })
	f.runner.Fail("sh -c ./scripts/pre.sh", "migration failed")

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStepFailed))

	var derr *Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, StepPreHook, derr.Step)
	assert.False(t, derr.RolledBack)

	var cmdErr *runner.Error
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitCode)

	assert.Equal(t, types.AttemptFailed, attempt.State)
	assert.Empty(t, f.backups.backups, "no backup before a failed pre-hook")
	assert.Equal(t, 0, f.builder.builds)
}

func TestDeployBuildIncompleteDoesNotTouchLive(t *testing.T) {
	f := newFixture(t, nil)
	f.builder.buildErr = fmt.Errorf("%w: entry file dist/server.js not found", types.ErrBuildIncomplete)

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBuildIncomplete))
	assert.Equal(t, ExitFailure, ExitCode(err))

	assert.Equal(t, types.AttemptFailed, attempt.State)
	assert.Equal(t, StepBuild, attempt.FailedStep)
	assert.Empty(t, f.sup.reloaded, "no process reload after an incomplete build")
	assert.Empty(t, f.sup.restarted)
	assert.Empty(t, f.backups.restored)
	assert.Equal(t, 0, f.edge.calls)
	assert.Equal(t, 0, f.probe.calls)

	ev := f.events.find(events.EventDeployFailed)
	require.NotNil(t, ev)
	assert.Equal(t, StepBuild, ev.Step)
}

func TestDeployReloadFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.sup.reloadErr = fmt.Errorf("%w: instance 0 not online", types.ErrProcessReloadFailed)

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProcessReloadFailed))
	assert.False(t, errors.Is(err, types.ErrRollbackFailed))
	assert.Equal(t, ExitFailure, ExitCode(err))

	var derr *Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, StepProcessReload, derr.Step)
	assert.True(t, derr.RolledBack)
	assert.NoError(t, derr.RollbackErr)
	assert.Contains(t, err.Error(), "rolled back")

	assert.Equal(t, types.AttemptRolledBack, attempt.State)
	assert.Equal(t, StepProcessReload, attempt.FailedStep)
	assert.NotEmpty(t, attempt.Error)

	require.Len(t, f.backups.restored, 1)
	assert.Equal(t, "backup-1", f.backups.restored[0].ID)
	require.Len(t, f.sup.restarted, 1)
	assert.Equal(t, "restored-backup-1", f.sup.restarted[0].ID)
	assert.Equal(t, 0, f.edge.calls)
	assert.Equal(t, 1, f.edge.reverts)
	assert.Equal(t, 1, f.probe.calls, "health is re-probed after rollback")

	names := stepNames(attempt)
	assert.Contains(t, names, StepRollbackRestore)
	assert.Contains(t, names, StepRollbackHealth)
	assert.NotContains(t, names, StepHealthCheck)

	evs := f.events.types()
	assert.Contains(t, evs, events.EventRollbackStarted)
	assert.Contains(t, evs, events.EventRollbackSucceeded)
	assert.Equal(t, events.EventDeployFailed, evs[len(evs)-1])
}

func TestDeployHealthFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.probe.errs = []error{fmt.Errorf("%w: unhealthy after 10 attempts", types.ErrHealthCheckTimeout)}

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrHealthCheckTimeout))
	assert.Equal(t, types.AttemptRolledBack, attempt.State)
	assert.Equal(t, StepHealthCheck, attempt.FailedStep)
	assert.Equal(t, 2, f.probe.calls)
	assert.Len(t, f.sup.reloaded, 1)
	assert.Len(t, f.sup.restarted, 1)
	assert.Equal(t, 1, f.edge.calls)
	assert.Equal(t, 1, f.edge.reverts)
}

func TestDeployEdgeFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.edge.err = fmt.Errorf("%w: unexpected \"}\"", types.ErrEdgeConfigInvalid)

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrEdgeConfigInvalid))
	assert.False(t, errors.Is(err, types.ErrRollbackFailed))
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Equal(t, types.AttemptRolledBack, attempt.State)
	assert.Equal(t, StepEdgeReload, attempt.FailedStep)

	// The rollback reverts to the previous edge config instead of
	// staging the invalid one again
	assert.Equal(t, 1, f.edge.calls)
	assert.Equal(t, 1, f.edge.reverts)
	assert.Len(t, f.sup.restarted, 1)
}

func TestDeployEdgeRevertFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.edge.err = fmt.Errorf("%w: unexpected \"}\"", types.ErrEdgeConfigInvalid)
	f.edge.revertErr = fmt.Errorf("%w: host config broken", types.ErrEdgeConfigInvalid)

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRollbackFailed))
	assert.Equal(t, ExitRollbackFailed, ExitCode(err))
	assert.Equal(t, types.AttemptRollbackFailed, attempt.State)
	assert.Contains(t, attempt.RollbackError, StepRollbackEdge)
	assert.Equal(t, 0, f.probe.calls)
}

func TestDeployRollbackFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.sup.reloadErr = types.ErrProcessReloadFailed
	f.sup.restartErr = errors.New("pm2 daemon not responding")

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRollbackFailed))
	assert.True(t, errors.Is(err, types.ErrProcessReloadFailed))
	assert.Equal(t, ExitRollbackFailed, ExitCode(err))
	assert.Contains(t, err.Error(), "rollback failed")

	assert.Equal(t, types.AttemptRollbackFailed, attempt.State)
	assert.Contains(t, attempt.RollbackError, StepRollbackRestart)
	assert.Equal(t, 0, f.probe.calls)
	assert.Contains(t, f.events.types(), events.EventRollbackFailed)

	last, err := f.store.LastAttempt()
	require.NoError(t, err)
	assert.Equal(t, types.AttemptRollbackFailed, last.State)
}

func TestDeployRollbackDisabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Rollback = false })
	f.sup.reloadErr = types.ErrProcessReloadFailed

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Equal(t, types.AttemptFailed, attempt.State)
	assert.Empty(t, f.backups.restored)
	assert.Empty(t, f.sup.restarted)
}

func TestDeployMissingTool(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RequiredTools = []string{"node", "pm2"} })

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPrerequisiteMissing))
	assert.Contains(t, err.Error(), "pm2")
	assert.Equal(t, StepValidate, attempt.FailedStep)
	assert.Empty(t, f.backups.backups)
}

func TestDeployUnusableTool(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.Fail("npm --version", "npm: cannot find module")

	_, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPrerequisiteMissing))
	assert.Contains(t, err.Error(), "npm is not usable")
}

func TestDeployMissingLockfile(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.Remove(filepath.Join(f.opts.SourceDir, "package-lock.json")))

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPrerequisiteMissing))
	assert.Equal(t, StepValidate, attempt.FailedStep)
}

func TestDeployCreatesRequiredDirs(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.o.Deploy(context.Background())
	require.NoError(t, err)
	assert.DirExists(t, f.opts.RequiredDirs[0])
}

func TestDeployWithoutEdge(t *testing.T) {
	f := newFixture(t, nil)
	deps := f.deps()
	deps.Edge = nil
	o := New(f.opts, deps)

	attempt, err := o.Deploy(context.Background())
	require.NoError(t, err)
	assert.True(t, attempt.Steps[6].Skipped)
	assert.Equal(t, StepEdgeReload, attempt.Steps[6].Name)
}

func TestDeployCancelled(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt, err := f.o.Deploy(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStepFailed))
	assert.Equal(t, StepValidate, attempt.FailedStep)
	assert.Empty(t, f.sup.reloaded)
}

func TestDeployBackupRetention(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.BackupKeep = 2 })

	for i := 0; i < 3; i++ {
		_, err := f.o.Deploy(context.Background())
		require.NoError(t, err)
	}

	backups, err := f.o.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "backup-3", backups[0].ID)
	assert.Equal(t, "backup-2", backups[1].ID)

	ev := f.events.find(events.EventBackupsPruned)
	require.NotNil(t, ev)
	assert.NotEmpty(t, ev.Metadata["retained"])
}

func TestDeployHistoryLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.HistoryLimit = 2 })

	var ids []string
	for i := 0; i < 3; i++ {
		attempt, err := f.o.Deploy(context.Background())
		require.NoError(t, err)
		ids = append(ids, attempt.ID)
	}

	history, err := f.o.History(0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[1], history[1].ID)
}

func TestDeployLocked(t *testing.T) {
	f := newFixture(t, nil)

	unlock, err := acquireLock(filepath.Join(f.opts.StateDir, LockFile))
	require.NoError(t, err)

	attempt, err := f.o.Deploy(context.Background())
	require.Error(t, err)
	assert.Nil(t, attempt)
	assert.True(t, errors.Is(err, types.ErrDeployInProgress))
	assert.Equal(t, ExitLocked, ExitCode(err))
	assert.Equal(t, 0, f.builder.builds)

	_, err = f.o.Rollback(context.Background())
	assert.True(t, errors.Is(err, types.ErrDeployInProgress))

	unlock()
	_, err = f.o.Deploy(context.Background())
	require.NoError(t, err)
}

func TestRollbackRestoresLatestBackup(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 2; i++ {
		_, err := f.o.Deploy(context.Background())
		require.NoError(t, err)
	}

	attempt, err := f.o.Rollback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.AttemptRollback, attempt.Kind)
	assert.Equal(t, types.AttemptSucceeded, attempt.State)
	require.Len(t, f.backups.restored, 1)
	assert.Equal(t, "backup-2", f.backups.restored[0].ID)
	assert.Equal(t, "restored-backup-2", attempt.ReleaseID)
	assert.Equal(t, "restored-backup-2", f.sup.live.ID)
	assert.Equal(t, 1, f.edge.reverts)

	ev := f.events.find(events.EventRollbackSucceeded)
	require.NotNil(t, ev)
	assert.Equal(t, string(types.AttemptRollback), ev.Metadata["kind"])
}

func TestRollbackWithoutBackups(t *testing.T) {
	f := newFixture(t, nil)

	attempt, err := f.o.Rollback(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRollbackFailed))
	assert.True(t, errors.Is(err, types.ErrBackupNotFound))
	assert.Equal(t, ExitRollbackFailed, ExitCode(err))
	assert.Equal(t, types.AttemptFailed, attempt.State)
	assert.Equal(t, StepRollbackRestore, attempt.FailedStep)
	assert.Empty(t, f.sup.restarted)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.o.Deploy(context.Background())
	require.NoError(t, err)

	st, err := f.o.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.Live)
	assert.Equal(t, "release-1", st.Live.ID)
	assert.Len(t, st.Processes, 1)
	assert.Empty(t, st.ProcessError)
	assert.Len(t, st.Backups, 1)
	require.NotNil(t, st.LastAttempt)
	assert.Equal(t, types.AttemptSucceeded, st.LastAttempt.State)
}

func TestStatusReportsProcessError(t *testing.T) {
	f := newFixture(t, nil)
	f.sup.statusErr = errors.New("pm2 not running")

	st, err := f.o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pm2 not running", st.ProcessError)
	assert.Nil(t, st.Live)
	assert.Nil(t, st.LastAttempt)
}

func TestLogs(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "deploy.log")
	require.NoError(t, os.WriteFile(logFile, []byte("one\ntwo\nthree\nfour\n"), 0644))
	f := newFixture(t, func(o *Options) { o.LogFile = logFile })

	var buf bytes.Buffer
	require.NoError(t, f.o.Logs(context.Background(), &buf, 2, false))
	assert.Equal(t, "three\nfour\n", buf.String())
}

func TestLogsWithoutLogFile(t *testing.T) {
	f := newFixture(t, nil)
	err := f.o.Logs(context.Background(), &bytes.Buffer{}, 10, false)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestResurrect(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.Resurrect(context.Background()))
	assert.Equal(t, 1, f.sup.resurrected)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, nil)
	f.probe.errs = []error{types.ErrHealthCheckTimeout}

	assert.True(t, errors.Is(f.o.HealthCheck(context.Background()), types.ErrHealthCheckTimeout))
	assert.NoError(t, f.o.HealthCheck(context.Background()))
}
