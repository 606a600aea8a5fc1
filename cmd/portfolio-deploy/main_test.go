package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/portfolio-deploy/pkg/config"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

func TestDeployOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Deploy.PreHook = "./scripts/pre-deploy.sh"

	opts := deployOptions(cfg, false)
	assert.Equal(t, cfg.Paths.StateDir, opts.StateDir)
	assert.Equal(t, "package.json", opts.ManifestFile)
	assert.Equal(t, "package-lock.json", opts.Lockfile)
	assert.Equal(t, 5, opts.BackupKeep)
	assert.True(t, opts.Rollback)
	assert.Equal(t, "./scripts/pre-deploy.sh", opts.PreHook)
	assert.Contains(t, opts.RequiredDirs, "/var/log/portfolio")
	assert.Contains(t, opts.HookEnv, "NODE_ENV=production")

	assert.False(t, deployOptions(cfg, true).Rollback, "--no-rollback wins")

	cfg.Deploy.Rollback = false
	assert.False(t, deployOptions(cfg, false).Rollback)
}

func TestSupervisorOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Process.Env = map[string]string{"PORT": "4000", "EXTRA": "1"}

	opts := supervisorOptions(cfg)
	assert.Equal(t, "portfolio", opts.AppName)
	assert.Equal(t, "dist/server.js", opts.Script)
	assert.Equal(t, types.ExecModeCluster, opts.ExecMode)
	assert.Equal(t, "4000", opts.Env["PORT"], "configured env overrides defaults")
	assert.Equal(t, "1", opts.Env["EXTRA"])
	assert.Equal(t, "3001", opts.Env["HEALTH_CHECK_PORT"])
}

func TestEdgeOptionsResolvesSiteConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Edge.SiteConfigSource = "deploy/nginx.conf"
	assert.Equal(t, "/var/www/portfolio/deploy/nginx.conf", edgeOptions(cfg).SiteConfigSource)
	assert.Equal(t, filepath.Join(cfg.Paths.StateDir, "edge-site.json"), edgeOptions(cfg).SnapshotPath)

	cfg.Edge.SiteConfigSource = "/etc/portfolio/nginx.conf"
	assert.Equal(t, "/etc/portfolio/nginx.conf", edgeOptions(cfg).SiteConfigSource)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1.0KiB"},
		{5 * 1024 * 1024, "5.0MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}

func TestPrintAttempt(t *testing.T) {
	a := types.NewDeploymentAttempt("abc", types.AttemptDeploy)
	a.Begin("build")
	a.Complete(errors.New("build incomplete"), false)
	a.Fail()

	var buf bytes.Buffer
	printAttempt(&buf, a)
	out := buf.String()
	assert.Contains(t, out, "✗ deploy abc failed at build")
	assert.Contains(t, out, "✗ build")

	buf.Reset()
	printAttempt(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	assert.Equal(t, "No deployments recorded\n", buf.String())

	a := types.NewDeploymentAttempt("abc", types.AttemptRollback)
	a.StartedAt = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	a.Succeed()
	buf.Reset()
	printHistory(&buf, []*types.DeploymentAttempt{a})
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[1]), "rollback")
	assert.Contains(t, string(lines[1]), "succeeded")
}

func TestVersionString(t *testing.T) {
	assert.Contains(t, versionString(), "portfolio-deploy version dev")
}

func TestHelpDescribesRollbackScope(t *testing.T) {
	assert.Contains(t, rootCmd.Long, "from\nprocess-reload onward")
	assert.Contains(t, rootCmd.Long, "without a rollback")
}
