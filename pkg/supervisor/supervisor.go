package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/fsutil"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/storage"
	"github.com/cuemby/portfolio-deploy/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// EcosystemFile is the generated PM2 ecosystem file name under StateDir
	EcosystemFile = "ecosystem.config.json"

	releaseManifest = "release.json"
)

// Options configures a Supervisor
type Options struct {
	AppName      string
	LiveDir      string
	StateDir     string
	Script       string // Entry file relative to the release root
	Instances    int    // 0 means one per CPU
	ExecMode     types.ExecMode
	HealthBinary string // Empty disables the auxiliary health process
	HealthArgs   []string
	Env          map[string]string

	// EnvName selects the ecosystem env block (env_<name>)
	EnvName string

	OnlineTimeout time.Duration
	PollInterval  time.Duration
}

// Supervisor owns the live release directory and keeps the process table
// in line with it. Replace and CurrentRelease are the only ways the live
// directory changes hands.
type Supervisor struct {
	opts   Options
	pm     ProcessManager
	store  storage.Store
	logger zerolog.Logger
	mu     sync.Mutex
}

// New creates a supervisor. store may be nil.
func New(opts Options, pm ProcessManager, store storage.Store) *Supervisor {
	if opts.Instances <= 0 {
		opts.Instances = runtime.NumCPU()
	}
	if opts.ExecMode == "" {
		opts.ExecMode = types.ExecModeCluster
	}
	if opts.OnlineTimeout <= 0 {
		opts.OnlineTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Supervisor{
		opts:   opts,
		pm:     pm,
		store:  store,
		logger: log.WithComponent("supervisor"),
	}
}

// HealthAppName is the name of the auxiliary health process
func (s *Supervisor) HealthAppName() string {
	return s.opts.AppName + "-health"
}

// CurrentRelease returns the release that is live right now
func (s *Supervisor) CurrentRelease() (*types.Release, error) {
	var rel types.Release
	if err := fsutil.ReadJSON(filepath.Join(s.opts.LiveDir, releaseManifest), &rel); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no live release in %s", types.ErrNotFound, s.opts.LiveDir)
		}
		return nil, fmt.Errorf("failed to read live release: %w", err)
	}
	rel.Dir = s.opts.LiveDir
	return &rel, nil
}

// Replace swaps rel into the live directory. rel.Dir is consumed.
func (s *Supervisor) Replace(rel *types.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replace(rel)
}

func (s *Supervisor) replace(rel *types.Release) error {
	if rel == nil || rel.Dir == "" {
		return fmt.Errorf("%w: no release to activate", types.ErrStepFailed)
	}
	if rel.Dir != s.opts.LiveDir {
		if err := fsutil.Swap(rel.Dir, s.opts.LiveDir); err != nil {
			return fmt.Errorf("%w: activate release %s: %v", types.ErrStepFailed, rel.ID, err)
		}
	}

	live := *rel
	live.Dir = s.opts.LiveDir
	if s.store != nil {
		if err := s.store.SetLiveRelease(&live); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record live release")
		}
	}

	s.logger.Info().
		Str("release_id", rel.ID).
		Str("source", rel.Source).
		Msg("Release activated")
	return nil
}

// Specs returns the desired process table for rel
func (s *Supervisor) Specs(rel *types.Release) []*types.ProcessSpec {
	releaseID := ""
	if rel != nil {
		releaseID = rel.ID
	}

	specs := []*types.ProcessSpec{{
		Name:      s.opts.AppName,
		Script:    filepath.Join(s.opts.LiveDir, s.opts.Script),
		Cwd:       s.opts.LiveDir,
		Instances: s.opts.Instances,
		ExecMode:  s.opts.ExecMode,
		Env:       s.opts.Env,
		ReleaseID: releaseID,
	}}
	if s.opts.ExecMode == types.ExecModeFork {
		specs[0].Instances = 1
	}

	if s.opts.HealthBinary != "" {
		specs = append(specs, &types.ProcessSpec{
			Name:        s.HealthAppName(),
			Script:      s.opts.HealthBinary,
			Args:        s.opts.HealthArgs,
			Cwd:         s.opts.StateDir,
			Interpreter: "none",
			Instances:   1,
			ExecMode:    types.ExecModeFork,
			Env:         s.opts.Env,
			ReleaseID:   releaseID,
		})
	}
	return specs
}

func (s *Supervisor) writeEcosystem(specs []*types.ProcessSpec) (string, error) {
	data, err := renderEcosystem(specs, s.opts.EnvName)
	if err != nil {
		return "", fmt.Errorf("failed to render ecosystem: %w", err)
	}
	if err := os.MkdirAll(s.opts.StateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	path := filepath.Join(s.opts.StateDir, EcosystemFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write ecosystem: %w", err)
	}
	return path, nil
}

// Reload activates rel and reloads the main app one instance at a time so
// at least one worker keeps serving. A missing app is cold-started.
func (s *Supervisor) Reload(ctx context.Context, rel *types.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.replace(rel); err != nil {
		return err
	}

	specs := s.Specs(rel)
	eco, err := s.writeEcosystem(specs)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrProcessReloadFailed, err)
	}

	procs, err := s.pm.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list processes: %v", types.ErrProcessReloadFailed, err)
	}
	main := s.instances(procs, s.opts.AppName)

	if len(main) == 0 {
		s.logger.Info().Str("app", s.opts.AppName).Msg("App not running, starting")
		if err := s.pm.Start(ctx, eco, s.opts.AppName); err != nil {
			return fmt.Errorf("%w: start %s: %v", types.ErrProcessReloadFailed, s.opts.AppName, err)
		}
	} else {
		if err := s.rollingReload(ctx, main); err != nil {
			return err
		}
		want := specs[0].Instances
		if s.opts.ExecMode == types.ExecModeCluster && len(main) != want {
			s.logger.Info().Int("from", len(main)).Int("to", want).Msg("Scaling app")
			if err := s.pm.Scale(ctx, s.opts.AppName, want); err != nil {
				return fmt.Errorf("%w: scale %s: %v", types.ErrProcessReloadFailed, s.opts.AppName, err)
			}
		}
	}

	if err := s.ensureHealthProcess(ctx, eco, procs, false); err != nil {
		return err
	}

	return s.persistAndVerify(ctx, specs)
}

func (s *Supervisor) rollingReload(ctx context.Context, main []types.ProcessInfo) error {
	for i, p := range main {
		logger := s.logger.With().Int("pm_id", p.ID).Logger()
		logger.Info().
			Int("instance", i+1).
			Int("of", len(main)).
			Msg("Reloading instance")

		if err := s.pm.Reload(ctx, strconv.Itoa(p.ID)); err != nil {
			return fmt.Errorf("%w: reload instance %d: %v", types.ErrProcessReloadFailed, p.ID, err)
		}
		if err := s.waitOnline(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// waitOnline polls until the process with pm_id is online
func (s *Supervisor) waitOnline(ctx context.Context, id int) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.OnlineTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	last := types.ProcessUnknown
	for {
		procs, err := s.pm.List(ctx)
		if err == nil {
			for _, p := range procs {
				if p.ID == id {
					last = p.Status
				}
			}
			if last == types.ProcessOnline {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: instance %d not online after %s (status %s)",
				types.ErrProcessReloadFailed, id, s.opts.OnlineTimeout, last)
		case <-ticker.C:
		}
	}
}

// Restart activates rel and fully restarts the app. Used on rollback.
func (s *Supervisor) Restart(ctx context.Context, rel *types.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.replace(rel); err != nil {
		return err
	}

	specs := s.Specs(rel)
	eco, err := s.writeEcosystem(specs)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrProcessReloadFailed, err)
	}

	procs, err := s.pm.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list processes: %v", types.ErrProcessReloadFailed, err)
	}

	if len(s.instances(procs, s.opts.AppName)) == 0 {
		err = s.pm.Start(ctx, eco, s.opts.AppName)
	} else {
		err = s.pm.Restart(ctx, s.opts.AppName)
	}
	if err != nil {
		return fmt.Errorf("%w: restart %s: %v", types.ErrProcessReloadFailed, s.opts.AppName, err)
	}
	s.logger.Info().Str("app", s.opts.AppName).Msg("App restarted")

	if err := s.ensureHealthProcess(ctx, eco, procs, true); err != nil {
		return err
	}

	return s.persistAndVerify(ctx, specs)
}

// ensureHealthProcess starts the health daemon when absent and otherwise
// reloads it (restart when hard is set) so it picks up the new env
func (s *Supervisor) ensureHealthProcess(ctx context.Context, eco string, procs []types.ProcessInfo, hard bool) error {
	if s.opts.HealthBinary == "" {
		return nil
	}
	name := s.HealthAppName()

	var err error
	switch {
	case len(s.instances(procs, name)) == 0:
		err = s.pm.Start(ctx, eco, name)
	case hard:
		err = s.pm.Restart(ctx, name)
	default:
		err = s.pm.Reload(ctx, name)
	}
	if err != nil {
		return fmt.Errorf("%w: health process %s: %v", types.ErrProcessReloadFailed, name, err)
	}
	return nil
}

func (s *Supervisor) persistAndVerify(ctx context.Context, specs []*types.ProcessSpec) error {
	if err := s.pm.Save(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to save process list")
	}
	if s.store != nil {
		if err := s.store.SaveProcesses(specs); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist process table")
		}
	}

	procs, err := s.pm.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list processes: %v", types.ErrProcessReloadFailed, err)
	}
	main := s.instances(procs, s.opts.AppName)
	if len(main) == 0 {
		return fmt.Errorf("%w: %s is not running", types.ErrProcessReloadFailed, s.opts.AppName)
	}
	for _, p := range main {
		if p.Status != types.ProcessOnline {
			return fmt.Errorf("%w: %s instance %d is %s",
				types.ErrProcessReloadFailed, s.opts.AppName, p.ID, p.Status)
		}
	}

	s.logger.Info().
		Str("app", s.opts.AppName).
		Int("instances", len(main)).
		Msg("All instances online")
	return nil
}

// Status returns the processes of the main and health apps
func (s *Supervisor) Status(ctx context.Context) ([]types.ProcessInfo, error) {
	procs, err := s.pm.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.ProcessInfo
	for _, p := range procs {
		if p.Name == s.opts.AppName || p.Name == s.HealthAppName() {
			out = append(out, p)
		}
	}
	return out, nil
}

// Resurrect restores the saved process list after a host restart. When the
// process manager has nothing saved, the persisted table is started instead.
func (s *Supervisor) Resurrect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pm.Resurrect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Process manager resurrect failed")
	}

	procs, err := s.pm.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list processes: %v", types.ErrProcessReloadFailed, err)
	}
	if len(s.instances(procs, s.opts.AppName)) > 0 {
		s.logger.Info().Msg("Processes resurrected")
		return nil
	}

	var specs []*types.ProcessSpec
	if s.store != nil {
		specs, err = s.store.ListProcesses()
		if err != nil {
			return fmt.Errorf("failed to load process table: %w", err)
		}
	}
	if len(specs) == 0 {
		rel, err := s.CurrentRelease()
		if err != nil {
			return fmt.Errorf("%w: nothing to resurrect: %v", types.ErrProcessReloadFailed, err)
		}
		specs = s.Specs(rel)
	}

	eco, err := s.writeEcosystem(specs)
	if err != nil {
		return err
	}
	if err := s.pm.Start(ctx, eco, ""); err != nil {
		return fmt.Errorf("%w: start from process table: %v", types.ErrProcessReloadFailed, err)
	}
	s.logger.Info().Int("apps", len(specs)).Msg("Processes started from persisted table")
	return s.persistAndVerify(ctx, specs)
}

// instances returns the processes named name ordered by pm_id
func (s *Supervisor) instances(procs []types.ProcessInfo, name string) []types.ProcessInfo {
	var out []types.ProcessInfo
	for _, p := range procs {
		if p.Name == name {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
