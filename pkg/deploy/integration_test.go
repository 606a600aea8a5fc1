package deploy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/portfolio-deploy/pkg/backup"
	"github.com/cuemby/portfolio-deploy/pkg/build"
	"github.com/cuemby/portfolio-deploy/pkg/events"
	"github.com/cuemby/portfolio-deploy/pkg/health"
	"github.com/cuemby/portfolio-deploy/pkg/metrics"
	"github.com/cuemby/portfolio-deploy/pkg/runner"
	"github.com/cuemby/portfolio-deploy/pkg/storage"
	"github.com/cuemby/portfolio-deploy/pkg/supervisor"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// stack wires the real components against a temp directory, a fake command
// runner and an in-memory process manager
type stack struct {
	o       *Orchestrator
	root    string
	src     string
	live    string
	pm      *supervisor.MemoryManager
	backups *backup.Manager
	srv     *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	root := t.TempDir()
	s := &stack{
		root: root,
		src:  filepath.Join(root, "src"),
		live: filepath.Join(root, "current"),
		pm:   supervisor.NewMemoryManager(),
	}
	writeSource(t, s.src, "package.json", `{"name":"portfolio"}`)
	writeSource(t, s.src, "package-lock.json", `{}`)

	stateDir := filepath.Join(root, "state")
	store, err := storage.NewBoltStore(stateDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fake := runner.NewFake()
	fake.AddPath("node", "npm")

	s.backups, err = backup.NewManager(backup.Options{
		LiveDir:   s.live,
		BackupDir: filepath.Join(root, "backups"),
	})
	require.NoError(t, err)

	builder := build.NewBuilder(build.Options{
		SourceDir:      s.src,
		ReleasesDir:    filepath.Join(root, "releases"),
		InstallCommand: []string{"npm", "ci"},
		BuildCommand:   []string{"npm", "run", "build"},
		OutputDir:      "dist",
		EntryFile:      "server.js",
		ManifestFiles:  []string{"package.json"},
		Lockfile:       "package-lock.json",
	}, fake)

	sup := supervisor.New(supervisor.Options{
		AppName:       "portfolio",
		LiveDir:       s.live,
		StateDir:      stateDir,
		Script:        "dist/server.js",
		Instances:     2,
		OnlineTimeout: 200 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}, s.pm, store)

	// The site serves whatever entry file is live
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := os.ReadFile(filepath.Join(s.live, "dist", "server.js"))
		if err != nil {
			http.Error(w, "no release", http.StatusServiceUnavailable)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(s.srv.Close)

	probe := health.NewProbe(health.NewHTTPChecker(s.srv.URL), health.Config{
		Attempts: 3,
		Timeout:  time.Second,
		Backoff:  10 * time.Millisecond,
	})

	s.o = New(Options{
		StateDir:      stateDir,
		SourceDir:     s.src,
		Lockfile:      "package-lock.json",
		ManifestFile:  "package.json",
		RequiredTools: []string{"node", "npm"},
		BackupKeep:    5,
		KeepReleases:  2,
		Rollback:      true,
	}, Deps{
		Backups:    s.backups,
		Builder:    builder,
		Supervisor: sup,
		Probe:      probe,
		Runner:     fake,
		Store:      store,
	})
	return s
}

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// build simulates the build command leaving an entry file behind
func (s *stack) build(t *testing.T, version string) {
	t.Helper()
	writeSource(t, s.src, "dist/server.js", version)
}

func (s *stack) get(t *testing.T) (int, string) {
	t.Helper()
	resp, err := http.Get(s.srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (s *stack) count(op string) int {
	n := 0
	for _, c := range s.pm.Calls() {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func TestIntegrationThreeDeploymentsKeepThreeBackups(t *testing.T) {
	s := newStack(t)

	var releases []string
	for _, version := range []string{"v1", "v2", "v3"} {
		s.build(t, version)
		attempt, err := s.o.Deploy(context.Background())
		require.NoError(t, err, version)
		releases = append(releases, attempt.ReleaseID)

		code, body := s.get(t)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, version, body)
	}

	backups, err := s.o.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, releases[1], backups[0].ReleaseID, "newest backup holds the tree before D3")
	assert.Equal(t, "", backups[2].ReleaseID, "oldest backup holds the tree before D1")

	assert.Equal(t, 1, s.count("start"), "first deployment cold-starts")
	assert.Equal(t, 4, s.count("reload"), "later deployments reload each instance")

	history, err := s.o.History(0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestIntegrationMissingEntryFileSkipsReload(t *testing.T) {
	s := newStack(t)
	s.build(t, "v1")
	_, err := s.o.Deploy(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(s.src, "dist", "server.js")))
	calls := len(s.pm.Calls())

	attempt, err := s.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBuildIncomplete))
	assert.Equal(t, types.AttemptFailed, attempt.State)
	assert.Len(t, s.pm.Calls(), calls, "process manager untouched")

	code, body := s.get(t)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", body)
}

func TestIntegrationReloadFailureRollsBack(t *testing.T) {
	s := newStack(t)
	s.build(t, "v1")
	first, err := s.o.Deploy(context.Background())
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()
	rec := metrics.NewDeployRecorder()
	rec.Consume(broker.Subscribe())
	s.o.deps.Events = broker

	s.pm.Fail("reload", errors.New("process exited with code 1"))
	s.build(t, "v2")

	attempt, err := s.o.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProcessReloadFailed))
	assert.False(t, errors.Is(err, types.ErrRollbackFailed))
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Equal(t, types.AttemptRolledBack, attempt.State)
	assert.Equal(t, first.ReleaseID, attempt.ReleaseID)

	code, body := s.get(t)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", body)
	assert.Equal(t, 1, s.count("restart"))

	broker.Stop()
	rec.Wait()
	textfile := filepath.Join(s.root, "deploy.prom")
	require.NoError(t, rec.WriteTextfile(textfile))
	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `portfolio_rollbacks_total{result="success"} 1`)
}
