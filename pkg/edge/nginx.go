package edge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/portfolio-deploy/pkg/fsutil"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/runner"
	"github.com/cuemby/portfolio-deploy/pkg/types"
	"github.com/rs/zerolog"
)

// Options configures an NginxReloader
type Options struct {
	// SiteConfigSource is the site config shipped with the source tree.
	// Empty means the installed config is managed elsewhere.
	SiteConfigSource string

	// SiteConfigPath is where nginx reads the site config from
	SiteConfigPath string

	// SnapshotPath persists the site config that was installed before the
	// last change, so a later process can revert it. Empty keeps it in
	// memory only.
	SnapshotPath string

	ValidateCommand []string // e.g. nginx -t
	ReloadCommand   []string // e.g. systemctl reload nginx
}

// snapshot is the installed site config before a deployment changed it
type snapshot struct {
	Path    string `json:"path"`
	Existed bool   `json:"existed"`
	Content []byte `json:"content,omitempty"`
}

// NginxReloader validates and gracefully reloads the reverse proxy
type NginxReloader struct {
	opts   Options
	runner runner.Runner
	logger zerolog.Logger

	mu   sync.Mutex
	prev *snapshot
}

// NewNginxReloader creates a reloader
func NewNginxReloader(opts Options, r runner.Runner) *NginxReloader {
	if len(opts.ValidateCommand) == 0 {
		opts.ValidateCommand = []string{"nginx", "-t"}
	}
	if len(opts.ReloadCommand) == 0 {
		opts.ReloadCommand = []string{"systemctl", "reload", "nginx"}
	}
	return &NginxReloader{
		opts:   opts,
		runner: r,
		logger: log.WithComponent("edge"),
	}
}

// Reload installs a changed site config, validates the full configuration
// and reloads without dropping connections. An invalid configuration is
// reverted and types.ErrEdgeConfigInvalid is returned without reloading.
// The config it replaced is remembered for Revert.
func (n *NginxReloader) Reload(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev, err := n.stage()
	if err != nil {
		return err
	}

	if err := n.validate(ctx); err != nil {
		if prev != nil {
			if rerr := n.restore(prev); rerr != nil {
				n.logger.Error().Err(rerr).Msg("Failed to restore previous site config")
			}
		}
		if cerr := n.clearSnapshot(); cerr != nil {
			n.logger.Warn().Err(cerr).Msg("Failed to clear site config snapshot")
		}
		return err
	}

	if prev != nil {
		if err := n.saveSnapshot(prev); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to record previous site config")
		}
	}
	return n.reload(ctx)
}

// Revert puts back the site config that the last Reload replaced, if any,
// then validates and reloads. The shipped config is never staged, so a
// revert after a failed deployment only touches what that deployment
// changed.
func (n *NginxReloader) Revert(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev, err := n.loadSnapshot()
	if err != nil {
		return fmt.Errorf("%w: read site config snapshot: %v", types.ErrStepFailed, err)
	}
	if prev != nil {
		if err := n.restore(prev); err != nil {
			return fmt.Errorf("%w: restore site config: %v", types.ErrStepFailed, err)
		}
		n.logger.Info().Str("path", prev.Path).Bool("existed", prev.Existed).Msg("Previous site config restored")
	}

	if err := n.validate(ctx); err != nil {
		return err
	}
	if err := n.reload(ctx); err != nil {
		return err
	}
	if prev != nil {
		if err := n.clearSnapshot(); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to clear site config snapshot")
		}
	}
	return nil
}

// Forget drops the remembered site config. The installed config becomes
// the one Revert returns to.
func (n *NginxReloader) Forget() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clearSnapshot()
}

func (n *NginxReloader) validate(ctx context.Context) error {
	validate := runner.FromArgv(n.opts.ValidateCommand)
	res, err := n.runner.Run(ctx, validate)
	if err == nil {
		return nil
	}
	output := ""
	if res != nil {
		output = res.Output()
	}
	n.logger.Error().
		Str("command", validate.String()).
		Str("output", output).
		Msg("Edge configuration invalid")
	return fmt.Errorf("%w: %v", types.ErrEdgeConfigInvalid, err)
}

func (n *NginxReloader) reload(ctx context.Context) error {
	reload := runner.FromArgv(n.opts.ReloadCommand)
	if _, err := n.runner.Run(ctx, reload); err != nil {
		return fmt.Errorf("%w: edge reload: %v", types.ErrStepFailed, err)
	}
	n.logger.Info().Str("command", reload.String()).Msg("Edge reloaded")
	return nil
}

// stage copies the shipped site config over the installed one when they
// differ and returns what was installed before. A nil snapshot means
// nothing changed, which also drops any older snapshot.
func (n *NginxReloader) stage() (*snapshot, error) {
	if n.opts.SiteConfigSource == "" || n.opts.SiteConfigPath == "" {
		return nil, nil
	}

	next, err := os.ReadFile(n.opts.SiteConfigSource)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			n.logger.Debug().Str("source", n.opts.SiteConfigSource).Msg("No site config shipped")
			return nil, n.clearSnapshot()
		}
		return nil, fmt.Errorf("%w: read site config: %v", types.ErrStepFailed, err)
	}

	prev, err := os.ReadFile(n.opts.SiteConfigPath)
	existed := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: read installed site config: %v", types.ErrStepFailed, err)
	}
	if existed && bytes.Equal(prev, next) {
		return nil, n.clearSnapshot()
	}

	if err := os.MkdirAll(filepath.Dir(n.opts.SiteConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStepFailed, err)
	}
	if err := os.WriteFile(n.opts.SiteConfigPath, next, 0644); err != nil {
		return nil, fmt.Errorf("%w: install site config: %v", types.ErrStepFailed, err)
	}
	n.logger.Info().Str("path", n.opts.SiteConfigPath).Msg("Site config updated")

	return &snapshot{Path: n.opts.SiteConfigPath, Existed: existed, Content: prev}, nil
}

func (n *NginxReloader) restore(s *snapshot) error {
	if !s.Existed {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(s.Path, s.Content, 0644)
}

func (n *NginxReloader) saveSnapshot(s *snapshot) error {
	n.prev = s
	if n.opts.SnapshotPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(n.opts.SnapshotPath), 0755); err != nil {
		return err
	}
	return fsutil.WriteJSON(n.opts.SnapshotPath, s)
}

func (n *NginxReloader) loadSnapshot() (*snapshot, error) {
	if n.prev != nil || n.opts.SnapshotPath == "" {
		return n.prev, nil
	}
	var s snapshot
	if err := fsutil.ReadJSON(n.opts.SnapshotPath, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (n *NginxReloader) clearSnapshot() error {
	n.prev = nil
	if n.opts.SnapshotPath == "" {
		return nil
	}
	if err := os.Remove(n.opts.SnapshotPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
