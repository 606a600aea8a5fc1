package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/fsutil"
	"github.com/cuemby/portfolio-deploy/pkg/storage"
	"github.com/cuemby/portfolio-deploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	sup   *Supervisor
	pm    *MemoryManager
	store *storage.BoltStore
	root  string
	opts  Options
}

func newFixture(t *testing.T, instances int) *fixture {
	t.Helper()
	root := t.TempDir()

	store, err := storage.NewBoltStore(filepath.Join(root, "state"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := Options{
		AppName:       "portfolio",
		LiveDir:       filepath.Join(root, "current"),
		StateDir:      filepath.Join(root, "state"),
		Script:        "dist/server.js",
		Instances:     instances,
		HealthBinary:  "/usr/local/bin/portfolio-health",
		Env:           map[string]string{"NODE_ENV": "production"},
		EnvName:       "production",
		OnlineTimeout: 200 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}
	pm := NewMemoryManager()
	return &fixture{
		sup:   New(opts, pm, store),
		pm:    pm,
		store: store,
		root:  root,
		opts:  opts,
	}
}

// stageRelease creates a release directory with a release manifest
func (f *fixture) stageRelease(t *testing.T, id string) *types.Release {
	t.Helper()
	rel := &types.Release{ID: id, Dir: filepath.Join(f.root, "releases", id), Source: "build"}
	require.NoError(t, os.MkdirAll(filepath.Join(rel.Dir, "dist"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rel.Dir, "dist", "server.js"), []byte(id), 0644))
	require.NoError(t, fsutil.WriteJSON(filepath.Join(rel.Dir, releaseManifest), rel))
	return rel
}

func TestReloadColdStart(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r1")))

	assert.Equal(t, []string{"start portfolio", "start portfolio-health", "save "}, f.pm.Calls())

	procs, err := f.sup.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, procs, 3)

	cur, err := f.sup.CurrentRelease()
	require.NoError(t, err)
	assert.Equal(t, "r1", cur.ID)
	assert.Equal(t, f.opts.LiveDir, cur.Dir)

	live, err := f.store.GetLiveRelease()
	require.NoError(t, err)
	assert.Equal(t, "r1", live.ID)

	specs, err := f.store.ListProcesses()
	require.NoError(t, err)
	assert.Len(t, specs, 2)

	_, err = os.Stat(filepath.Join(f.opts.StateDir, EcosystemFile))
	assert.NoError(t, err)
}

func TestReloadIsRollingPerInstance(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r1")))

	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r2")))

	calls := f.pm.Calls()
	assert.Equal(t, []string{
		"reload 0",
		"reload 1",
		"reload 2",
		"reload portfolio-health",
		"save ",
	}, calls[len(calls)-5:])

	data, err := os.ReadFile(filepath.Join(f.opts.LiveDir, "dist", "server.js"))
	require.NoError(t, err)
	assert.Equal(t, "r2", string(data))
}

func TestReloadScalesToDesiredInstances(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r1")))

	f.sup.opts.Instances = 4
	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r2")))

	assert.Contains(t, f.pm.Calls(), "scale portfolio 4")
	procs, err := f.pm.List(ctx)
	require.NoError(t, err)
	assert.Len(t, f.sup.instances(procs, "portfolio"), 4)
}

func TestReloadFailsWhenInstanceNotOnline(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r1")))

	f.pm.SetStatus("portfolio", types.ProcessErrored)
	err := f.sup.Reload(ctx, f.stageRelease(t, "r2"))
	assert.True(t, errors.Is(err, types.ErrProcessReloadFailed))
	assert.Contains(t, err.Error(), "not online")
}

func TestReloadColdStartErrored(t *testing.T) {
	f := newFixture(t, 1)
	f.pm.SetStatus("portfolio", types.ProcessErrored)

	err := f.sup.Reload(context.Background(), f.stageRelease(t, "r1"))
	assert.True(t, errors.Is(err, types.ErrProcessReloadFailed))
}

func TestReloadProcessManagerError(t *testing.T) {
	f := newFixture(t, 1)
	f.pm.Fail("start", errors.New("pm2 not running"))

	err := f.sup.Reload(context.Background(), f.stageRelease(t, "r1"))
	assert.True(t, errors.Is(err, types.ErrProcessReloadFailed))
}

func TestRestart(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r1")))

	require.NoError(t, f.sup.Restart(ctx, f.stageRelease(t, "r0")))

	calls := f.pm.Calls()
	assert.Equal(t, []string{"restart portfolio", "restart portfolio-health", "save "}, calls[len(calls)-3:])

	cur, err := f.sup.CurrentRelease()
	require.NoError(t, err)
	assert.Equal(t, "r0", cur.ID)
}

func TestCurrentReleaseMissing(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.sup.CurrentRelease()
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestReplaceRejectsEmptyRelease(t *testing.T) {
	f := newFixture(t, 1)
	assert.Error(t, f.sup.Replace(nil))
	assert.Error(t, f.sup.Replace(&types.Release{ID: "x"}))
}

func TestSpecsForkMode(t *testing.T) {
	f := newFixture(t, 4)
	f.sup.opts.ExecMode = types.ExecModeFork
	f.sup.opts.HealthBinary = ""

	specs := f.sup.Specs(&types.Release{ID: "r1"})
	require.Len(t, specs, 1)
	assert.Equal(t, 1, specs[0].Instances)
	assert.Equal(t, filepath.Join(f.opts.LiveDir, "dist", "server.js"), specs[0].Script)
	assert.Equal(t, "r1", specs[0].ReleaseID)
}

func TestDefaultInstancesIsCPUCount(t *testing.T) {
	f := newFixture(t, 0)
	assert.Greater(t, f.sup.opts.Instances, 0)
}

func TestResurrectFromSavedList(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r1")))

	f.pm.Crash()
	require.NoError(t, f.sup.Resurrect(ctx))

	procs, err := f.sup.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, procs, 3)
}

func TestResurrectFromPersistedTable(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	require.NoError(t, f.sup.Reload(ctx, f.stageRelease(t, "r1")))

	f.pm.Crash()
	f.pm.ClearSaved()
	require.NoError(t, f.sup.Resurrect(ctx))

	procs, err := f.sup.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, procs, 3)
	assert.Contains(t, f.pm.Calls(), "start ")
}

func TestResurrectWithNothingKnown(t *testing.T) {
	f := newFixture(t, 1)
	err := f.sup.Resurrect(context.Background())
	assert.True(t, errors.Is(err, types.ErrProcessReloadFailed))
}
