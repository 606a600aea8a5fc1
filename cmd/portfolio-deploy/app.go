package main

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/portfolio-deploy/pkg/backup"
	"github.com/cuemby/portfolio-deploy/pkg/build"
	"github.com/cuemby/portfolio-deploy/pkg/config"
	"github.com/cuemby/portfolio-deploy/pkg/deploy"
	"github.com/cuemby/portfolio-deploy/pkg/edge"
	"github.com/cuemby/portfolio-deploy/pkg/events"
	"github.com/cuemby/portfolio-deploy/pkg/health"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/metrics"
	"github.com/cuemby/portfolio-deploy/pkg/runner"
	"github.com/cuemby/portfolio-deploy/pkg/storage"
	"github.com/cuemby/portfolio-deploy/pkg/supervisor"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

type appOptions struct {
	// readOnly commands neither append to the deploy log nor export metrics
	readOnly   bool
	noRollback bool
}

// app holds the wired components of one CLI invocation
type app struct {
	cfg      *config.Config
	store    *storage.BoltStore
	broker   *events.Broker
	recorder *metrics.DeployRecorder
	orch     *deploy.Orchestrator
}

func newApp(configPath string, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	}
	if !opts.readOnly {
		logCfg.File = cfg.Log.File
	}
	if err := log.Init(logCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.Paths.StateDir)
	if err != nil {
		log.Close()
		return nil, err
	}

	r := runner.NewExecRunner(log.WithComponent("runner"))

	var mirror backup.Mirror
	if cfg.Backup.S3.Enabled() {
		mirror = backup.NewS3Mirror(backup.S3Config(cfg.Backup.S3))
	}
	backups, err := backup.NewManager(backup.Options{
		LiveDir:         cfg.Paths.LiveDir,
		BackupDir:       cfg.Paths.BackupDir,
		Exclude:         cfg.Backup.Exclude,
		Checksums:       cfg.Backup.Checksums,
		VerifyOnRestore: cfg.Backup.VerifyOnRestore,
		Mirror:          mirror,
	})
	if err != nil {
		store.Close()
		log.Close()
		return nil, err
	}

	builder := build.NewBuilder(build.Options{
		SourceDir:      cfg.Paths.SourceDir,
		ReleasesDir:    cfg.Paths.ReleasesDir,
		InstallCommand: cfg.Build.InstallCommand,
		BuildCommand:   cfg.Build.BuildCommand,
		OutputDir:      cfg.Build.OutputDir,
		EntryFile:      cfg.Build.EntryFile,
		ManifestFiles:  cfg.Build.ManifestFiles,
		Lockfile:       cfg.Build.Lockfile,
		Env:            hookEnv(cfg),
	}, r)

	sup := supervisor.New(supervisorOptions(cfg), supervisor.NewPM2(cfg.Process.PM2Binary, cfg.App.Environment, r), store)

	probe := health.NewProbe(
		health.NewHTTPChecker(cfg.Health.URL).WithTimeout(cfg.Health.Timeout),
		cfg.ProbeConfig(),
	)

	a := &app{cfg: cfg, store: store}

	deps := deploy.Deps{
		Backups:    backups,
		Builder:    builder,
		Supervisor: sup,
		Probe:      probe,
		Runner:     r,
		Store:      store,
	}
	if cfg.Edge.Enabled {
		deps.Edge = edge.NewNginxReloader(edgeOptions(cfg), r)
	}
	if !opts.readOnly && cfg.Metrics.Textfile != "" {
		a.broker = events.NewBroker()
		a.broker.Start()
		a.recorder = metrics.NewDeployRecorder()
		a.recorder.Consume(a.broker.Subscribe())
		deps.Events = a.broker
	}

	a.orch = deploy.New(deployOptions(cfg, opts.noRollback), deps)
	return a, nil
}

// Close flushes pending events into the metrics textfile and releases the
// state database and the log file
func (a *app) Close() {
	if a.broker != nil {
		a.broker.Stop()
		a.recorder.Wait()
		if err := a.recorder.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			log.Logger.Warn().Err(err).Str("path", a.cfg.Metrics.Textfile).Msg("Failed to write metrics textfile")
		}
	}
	if err := a.store.Close(); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to close state database")
	}
	log.Close()
}

func deployOptions(cfg *config.Config, noRollback bool) deploy.Options {
	manifest := ""
	if len(cfg.Build.ManifestFiles) > 0 {
		manifest = cfg.Build.ManifestFiles[0]
	}

	dirs := []string{cfg.Paths.ReleasesDir, cfg.Paths.BackupDir, cfg.Paths.StateDir}
	if cfg.Log.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.Log.File))
	}

	return deploy.Options{
		StateDir:      cfg.Paths.StateDir,
		SourceDir:     cfg.Paths.SourceDir,
		Lockfile:      cfg.Build.Lockfile,
		ManifestFile:  manifest,
		RequiredTools: cfg.Build.RequiredTools,
		RequiredDirs:  dirs,
		PreHook:       cfg.Deploy.PreHook,
		PostHook:      cfg.Deploy.PostHook,
		HookEnv:       hookEnv(cfg),
		BackupKeep:    cfg.Backup.Keep,
		KeepReleases:  cfg.Build.KeepReleases,
		Rollback:      cfg.Deploy.Rollback && !noRollback,
		HistoryLimit:  cfg.Deploy.HistoryLimit,
		LogFile:       cfg.Log.File,
	}
}

func supervisorOptions(cfg *config.Config) supervisor.Options {
	env := map[string]string{
		"NODE_ENV":          cfg.App.Environment,
		"PORT":              fmt.Sprint(cfg.App.Port),
		"HEALTH_CHECK_PORT": fmt.Sprint(cfg.Health.Port),
		"APP_NAME":          cfg.App.Name,
		"APP_VERSION":       cfg.App.Version,
	}
	if cfg.Paths.EnvFile != "" {
		env["DEPLOY_ENV_FILE"] = cfg.Paths.EnvFile
	}
	for k, v := range cfg.Process.Env {
		env[k] = v
	}

	return supervisor.Options{
		AppName:       cfg.App.Name,
		LiveDir:       cfg.Paths.LiveDir,
		StateDir:      cfg.Paths.StateDir,
		Script:        cfg.EntryPath(),
		Instances:     cfg.Process.Instances,
		ExecMode:      types.ExecMode(cfg.Process.ExecMode),
		HealthBinary:  cfg.Process.HealthBinary,
		HealthArgs:    cfg.Process.HealthArgs,
		Env:           env,
		EnvName:       cfg.App.Environment,
		OnlineTimeout: cfg.Process.OnlineTimeout,
		PollInterval:  cfg.Process.PollInterval,
	}
}

func edgeOptions(cfg *config.Config) edge.Options {
	src := cfg.Edge.SiteConfigSource
	if src != "" && !filepath.IsAbs(src) {
		src = filepath.Join(cfg.Paths.SourceDir, src)
	}
	return edge.Options{
		SiteConfigSource: src,
		SiteConfigPath:   cfg.Edge.SiteConfigPath,
		SnapshotPath:     cfg.StatePath("edge-site.json"),
		ValidateCommand:  cfg.Edge.ValidateCommand,
		ReloadCommand:    cfg.Edge.ReloadCommand,
	}
}

// hookEnv is passed to hooks and build commands
func hookEnv(cfg *config.Config) []string {
	return []string{
		"NODE_ENV=" + cfg.App.Environment,
		"APP_NAME=" + cfg.App.Name,
		"APP_VERSION=" + cfg.App.Version,
		"DEPLOY_LIVE_DIR=" + cfg.Paths.LiveDir,
	}
}
