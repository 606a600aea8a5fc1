package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/runner"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// ProcessManager abstracts the process manager that runs the service
type ProcessManager interface {
	// List returns every process the manager knows about
	List(ctx context.Context) ([]types.ProcessInfo, error)

	// Start launches the apps of an ecosystem file. A non-empty only
	// restricts the launch to that app.
	Start(ctx context.Context, ecosystem, only string) error

	// Reload gracefully reloads a process by pm_id or name
	Reload(ctx context.Context, target string) error

	// Restart stops and starts every instance of an app
	Restart(ctx context.Context, name string) error

	// Scale sets the instance count of a cluster-mode app
	Scale(ctx context.Context, name string, instances int) error

	// Save persists the current process list for resurrection
	Save(ctx context.Context) error

	// Resurrect restores the last saved process list
	Resurrect(ctx context.Context) error
}

// PM2 drives the pm2 CLI
type PM2 struct {
	binary string
	env    string
	runner runner.Runner
}

// NewPM2 creates a PM2 client. env selects the ecosystem env block
// (env_<name>) used on start.
func NewPM2(binary, env string, r runner.Runner) *PM2 {
	if binary == "" {
		binary = "pm2"
	}
	return &PM2{binary: binary, env: env, runner: r}
}

func (p *PM2) run(ctx context.Context, args ...string) (*runner.Result, error) {
	return p.runner.Run(ctx, runner.Command{Name: p.binary, Args: args})
}

// jlistEntry mirrors the fields of `pm2 jlist` we consume
type jlistEntry struct {
	Name  string `json:"name"`
	PMID  int    `json:"pm_id"`
	PID   int    `json:"pid"`
	Monit struct {
		Memory int64   `json:"memory"`
		CPU    float64 `json:"cpu"`
	} `json:"monit"`
	Env struct {
		Status      string `json:"status"`
		ExecMode    string `json:"exec_mode"`
		RestartTime int    `json:"restart_time"`
		PMUptime    int64  `json:"pm_uptime"`
	} `json:"pm2_env"`
}

func (p *PM2) List(ctx context.Context) ([]types.ProcessInfo, error) {
	res, err := p.run(ctx, "jlist")
	if err != nil {
		return nil, err
	}
	return parseJList(res.Stdout, time.Now())
}

func parseJList(data []byte, now time.Time) ([]types.ProcessInfo, error) {
	// pm2 may print banner lines such as "[PM2] Spawning PM2 daemon" before
	// the JSON array, so decode from the first '[' that parses
	var entries []jlistEntry
	var decodeErr error
	found := false
	for i := 0; i < len(data) && !found; i++ {
		if data[i] != '[' {
			continue
		}
		entries = nil
		if decodeErr = json.Unmarshal(data[i:], &entries); decodeErr == nil {
			found = true
		}
	}
	if !found {
		if decodeErr == nil {
			decodeErr = fmt.Errorf("no JSON array in output")
		}
		return nil, fmt.Errorf("pm2 jlist: %w", decodeErr)
	}

	procs := make([]types.ProcessInfo, 0, len(entries))
	for _, e := range entries {
		info := types.ProcessInfo{
			Name:        e.Name,
			ID:          e.PMID,
			PID:         e.PID,
			Status:      parseStatus(e.Env.Status),
			ExecMode:    types.ExecMode(strings.TrimSuffix(e.Env.ExecMode, "_mode")),
			CPU:         e.Monit.CPU,
			MemoryBytes: e.Monit.Memory,
			Restarts:    e.Env.RestartTime,
		}
		if info.Status == types.ProcessOnline && e.Env.PMUptime > 0 {
			info.Uptime = now.Sub(time.UnixMilli(e.Env.PMUptime)).Truncate(time.Second)
		}
		procs = append(procs, info)
	}
	return procs, nil
}

func parseStatus(s string) types.ProcessStatus {
	switch types.ProcessStatus(s) {
	case types.ProcessOnline, types.ProcessStopped, types.ProcessStopping,
		types.ProcessLaunching, types.ProcessErrored:
		return types.ProcessStatus(s)
	default:
		return types.ProcessUnknown
	}
}

func (p *PM2) Start(ctx context.Context, ecosystem, only string) error {
	args := []string{"start", ecosystem}
	if p.env != "" {
		args = append(args, "--env", p.env)
	}
	if only != "" {
		args = append(args, "--only", only)
	}
	_, err := p.run(ctx, args...)
	return err
}

func (p *PM2) Reload(ctx context.Context, target string) error {
	_, err := p.run(ctx, "reload", target, "--update-env")
	return err
}

func (p *PM2) Restart(ctx context.Context, name string) error {
	_, err := p.run(ctx, "restart", name, "--update-env")
	return err
}

func (p *PM2) Scale(ctx context.Context, name string, instances int) error {
	_, err := p.run(ctx, "scale", name, strconv.Itoa(instances))
	return err
}

func (p *PM2) Save(ctx context.Context) error {
	_, err := p.run(ctx, "save")
	return err
}

func (p *PM2) Resurrect(ctx context.Context) error {
	_, err := p.run(ctx, "resurrect")
	return err
}

// ecosystemApp is one app entry of a PM2 ecosystem file
type ecosystemApp struct {
	Name        string            `json:"name"`
	Script      string            `json:"script"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd"`
	Interpreter string            `json:"interpreter,omitempty"`
	Instances   int               `json:"instances"`
	ExecMode    string            `json:"exec_mode"`
	Autorestart bool              `json:"autorestart"`
	KillTimeout int               `json:"kill_timeout"`
	Env         map[string]string `json:"env,omitempty"`
}

type ecosystemFile struct {
	Apps []map[string]any `json:"apps"`
}

// renderEcosystem builds the ecosystem JSON for specs. Env vars are written
// both to env and to env_<envName> so `--env <envName>` picks them up.
func renderEcosystem(specs []*types.ProcessSpec, envName string) ([]byte, error) {
	file := ecosystemFile{}
	for _, s := range specs {
		app := ecosystemApp{
			Name:        s.Name,
			Script:      s.Script,
			Args:        s.Args,
			Cwd:         s.Cwd,
			Interpreter: s.Interpreter,
			Instances:   s.Instances,
			ExecMode:    string(s.ExecMode),
			Autorestart: true,
			KillTimeout: 5000,
			Env:         s.Env,
		}
		data, err := json.Marshal(app)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if envName != "" && len(s.Env) > 0 {
			m["env_"+envName] = s.Env
		}
		file.Apps = append(file.Apps, m)
	}
	return json.MarshalIndent(file, "", "  ")
}
