package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/fsutil"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/runner"
	"github.com/cuemby/portfolio-deploy/pkg/types"
	"github.com/rs/zerolog"
)

// ReleaseManifest is written at the root of every release
const ReleaseManifest = "release.json"

// Options configures a Builder
type Options struct {
	SourceDir      string
	ReleasesDir    string
	InstallCommand []string
	BuildCommand   []string
	OutputDir      string   // Relative to SourceDir
	EntryFile      string   // Relative to OutputDir
	ManifestFiles  []string // Copied next to the output tree
	Lockfile       string
	Env            []string
}

// Builder installs dependencies, runs the build and packages a Release
type Builder struct {
	opts   Options
	runner runner.Runner
	logger zerolog.Logger
	now    func() time.Time
}

// NewBuilder creates a builder
func NewBuilder(opts Options, r runner.Runner) *Builder {
	return &Builder{
		opts:   opts,
		runner: r,
		logger: log.WithComponent("build"),
		now:    time.Now,
	}
}

// Install runs the dependency install command in the source directory
func (b *Builder) Install(ctx context.Context) error {
	lockfile := filepath.Join(b.opts.SourceDir, b.opts.Lockfile)
	if _, err := os.Stat(lockfile); err != nil {
		return fmt.Errorf("%w: lockfile %s", types.ErrPrerequisiteMissing, lockfile)
	}

	cmd := runner.FromArgv(b.opts.InstallCommand)
	cmd.Dir = b.opts.SourceDir
	cmd.Env = b.opts.Env

	res, err := b.runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: install dependencies: %v", types.ErrStepFailed, err)
	}
	b.logger.Info().
		Str("command", cmd.String()).
		Dur("duration", res.Duration).
		Msg("Dependencies installed")
	return nil
}

// EntryPath is the absolute path of the entry file in the source tree
func (b *Builder) EntryPath() string {
	return filepath.Join(b.opts.SourceDir, b.opts.OutputDir, b.opts.EntryFile)
}

// Build runs the build command, verifies the entry file and packages the
// output into a new release directory
func (b *Builder) Build(ctx context.Context) (*types.Release, error) {
	cmd := runner.FromArgv(b.opts.BuildCommand)
	cmd.Dir = b.opts.SourceDir
	cmd.Env = b.opts.Env

	res, err := b.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: build: %v", types.ErrStepFailed, err)
	}
	b.logger.Info().
		Str("command", cmd.String()).
		Dur("duration", res.Duration).
		Msg("Build finished")

	if _, err := os.Stat(b.EntryPath()); err != nil {
		return nil, fmt.Errorf("%w: entry file %s not found", types.ErrBuildIncomplete, b.EntryPath())
	}

	return b.Package()
}

// Package copies the build output and manifest files into ReleasesDir/<id>
func (b *Builder) Package() (*types.Release, error) {
	created := b.now().UTC()
	rel := &types.Release{
		ID:        types.NewReleaseID(created),
		CreatedAt: created,
		Source:    "build",
	}
	rel.Dir = filepath.Join(b.opts.ReleasesDir, rel.ID)

	if err := os.MkdirAll(b.opts.ReleasesDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create releases directory: %v", types.ErrStepFailed, err)
	}

	src := filepath.Join(b.opts.SourceDir, b.opts.OutputDir)
	if _, err := fsutil.CopyTree(src, filepath.Join(rel.Dir, b.opts.OutputDir), fsutil.CopyOptions{}); err != nil {
		os.RemoveAll(rel.Dir)
		return nil, fmt.Errorf("%w: package output: %v", types.ErrStepFailed, err)
	}
	rel.Files = append(rel.Files, b.opts.OutputDir)

	for _, name := range b.opts.ManifestFiles {
		srcFile := filepath.Join(b.opts.SourceDir, name)
		if _, err := os.Stat(srcFile); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := fsutil.CopyFile(srcFile, filepath.Join(rel.Dir, name)); err != nil {
			os.RemoveAll(rel.Dir)
			return nil, fmt.Errorf("%w: copy %s: %v", types.ErrStepFailed, name, err)
		}
		rel.Files = append(rel.Files, name)
	}

	if err := fsutil.WriteJSON(filepath.Join(rel.Dir, ReleaseManifest), rel); err != nil {
		os.RemoveAll(rel.Dir)
		return nil, fmt.Errorf("%w: write release manifest: %v", types.ErrStepFailed, err)
	}

	b.logger.Info().
		Str("release_id", rel.ID).
		Str("dir", rel.Dir).
		Strs("files", rel.Files).
		Msg("Release packaged")
	return rel, nil
}

// Prune removes staged release directories left behind by aborted runs,
// keeping the keep newest
func (b *Builder) Prune(keep int) (int, error) {
	entries, err := os.ReadDir(b.opts.ReleasesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read releases directory: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	removed := 0
	for i, name := range dirs {
		if i < keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(b.opts.ReleasesDir, name)); err != nil {
			return removed, fmt.Errorf("failed to remove stale release %s: %w", name, err)
		}
		removed++
	}
	if removed > 0 {
		b.logger.Debug().Int("removed", removed).Msg("Stale releases pruned")
	}
	return removed, nil
}
