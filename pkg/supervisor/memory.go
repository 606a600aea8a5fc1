package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// MemoryManager is an in-memory ProcessManager for tests. Apps started from
// an ecosystem file come up online unless SetStatus says otherwise.
type MemoryManager struct {
	mu     sync.Mutex
	procs  []types.ProcessInfo
	saved  []types.ProcessInfo
	nextID int
	status map[string]types.ProcessStatus
	errs   map[string]error
	calls  []string
}

// NewMemoryManager creates an empty MemoryManager
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		status: make(map[string]types.ProcessStatus),
		errs:   make(map[string]error),
	}
}

// SetStatus sets the status app instances take after start, reload or
// restart, and applies it to instances already running
func (m *MemoryManager) SetStatus(app string, status types.ProcessStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[app] = status
	for i := range m.procs {
		if m.procs[i].Name == app {
			m.procs[i].Status = status
		}
	}
}

// Fail makes the named operation ("start", "reload", ...) return err
func (m *MemoryManager) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// Calls returns the operations performed so far, e.g. "reload 0"
func (m *MemoryManager) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MemoryManager) record(op, arg string) error {
	m.calls = append(m.calls, op+" "+arg)
	return m.errs[op]
}

func (m *MemoryManager) statusFor(app string) types.ProcessStatus {
	if s, ok := m.status[app]; ok {
		return s
	}
	return types.ProcessOnline
}

func (m *MemoryManager) List(ctx context.Context) ([]types.ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["list"]; err != nil {
		return nil, err
	}
	return append([]types.ProcessInfo(nil), m.procs...), nil
}

func (m *MemoryManager) Start(ctx context.Context, ecosystem, only string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("start", only); err != nil {
		return err
	}

	data, err := os.ReadFile(ecosystem)
	if err != nil {
		return err
	}
	var file struct {
		Apps []struct {
			Name      string `json:"name"`
			Instances int    `json:"instances"`
			ExecMode  string `json:"exec_mode"`
		} `json:"apps"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("invalid ecosystem: %w", err)
	}

	for _, app := range file.Apps {
		if only != "" && app.Name != only {
			continue
		}
		if m.has(app.Name) {
			continue
		}
		n := app.Instances
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			m.spawn(app.Name, types.ExecMode(app.ExecMode))
		}
	}
	return nil
}

func (m *MemoryManager) has(app string) bool {
	for _, p := range m.procs {
		if p.Name == app {
			return true
		}
	}
	return false
}

func (m *MemoryManager) spawn(app string, mode types.ExecMode) {
	m.procs = append(m.procs, types.ProcessInfo{
		Name:     app,
		ID:       m.nextID,
		PID:      10000 + m.nextID,
		Status:   m.statusFor(app),
		ExecMode: mode,
	})
	m.nextID++
}

func (m *MemoryManager) Reload(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("reload", target); err != nil {
		return err
	}
	return m.bounce(target)
}

func (m *MemoryManager) Restart(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("restart", name); err != nil {
		return err
	}
	return m.bounce(name)
}

// bounce restarts the instances matching target (pm_id or app name)
func (m *MemoryManager) bounce(target string) error {
	id, err := strconv.Atoi(target)
	numeric := err == nil
	found := false
	for i := range m.procs {
		p := &m.procs[i]
		if (numeric && p.ID == id) || (!numeric && p.Name == target) {
			p.Restarts++
			p.PID += 1000
			p.Status = m.statusFor(p.Name)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("process or namespace %s not found", target)
	}
	return nil
}

func (m *MemoryManager) Scale(ctx context.Context, name string, instances int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("scale", name+" "+strconv.Itoa(instances)); err != nil {
		return err
	}

	var kept []types.ProcessInfo
	count := 0
	var mode types.ExecMode
	for _, p := range m.procs {
		if p.Name == name {
			mode = p.ExecMode
			if count >= instances {
				continue
			}
			count++
		}
		kept = append(kept, p)
	}
	m.procs = kept
	for ; count < instances; count++ {
		m.spawn(name, mode)
	}
	return nil
}

func (m *MemoryManager) Save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("save", ""); err != nil {
		return err
	}
	m.saved = append([]types.ProcessInfo(nil), m.procs...)
	return nil
}

func (m *MemoryManager) Resurrect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("resurrect", ""); err != nil {
		return err
	}
	if len(m.procs) == 0 {
		m.procs = append([]types.ProcessInfo(nil), m.saved...)
	}
	return nil
}

// Crash drops every process, as after a host reboot
func (m *MemoryManager) Crash() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs = nil
}

// ClearSaved forgets the saved process list
func (m *MemoryManager) ClearSaved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = nil
}
