package types

import (
	"time"
)

// ReleaseIDFormat is the timestamp layout used for release and backup IDs.
// The fixed-width fractional part keeps IDs lexically sortable.
const ReleaseIDFormat = "20060102T150405.000000000Z"

// NewReleaseID returns a timestamp ID for t
func NewReleaseID(t time.Time) string {
	return t.UTC().Format(ReleaseIDFormat)
}

// Release is an immutable built artifact set of the service
type Release struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Dir       string    `json:"dir"`             // Directory holding the artifact set
	Files     []string  `json:"files,omitempty"` // Relative paths of top-level entries
	Source    string    `json:"source"`          // "build" or "backup:<id>"
}

// Backup is a retained snapshot of the live artifact set
type Backup struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Dir       string            `json:"dir"`
	ReleaseID string            `json:"release_id,omitempty"` // Live release at snapshot time, if known
	Files     int               `json:"files"`
	Bytes     int64             `json:"bytes"`
	Checksums map[string]string `json:"checksums,omitempty"` // Relative path -> sha256, when enabled
}

// ExecMode defines how the process manager runs an app
type ExecMode string

const (
	ExecModeCluster ExecMode = "cluster"
	ExecModeFork    ExecMode = "fork"
)

// ProcessSpec is one entry of the desired process table
type ProcessSpec struct {
	Name        string            `json:"name"`
	Script      string            `json:"script"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd"`
	Interpreter string            `json:"interpreter,omitempty"` // "none" for native binaries
	Instances   int               `json:"instances"`
	ExecMode    ExecMode          `json:"exec_mode"`
	Env         map[string]string `json:"env,omitempty"`
	ReleaseID   string            `json:"release_id,omitempty"`
}

// ProcessStatus is the process manager's view of a process
type ProcessStatus string

const (
	ProcessOnline    ProcessStatus = "online"
	ProcessStopped   ProcessStatus = "stopped"
	ProcessStopping  ProcessStatus = "stopping"
	ProcessLaunching ProcessStatus = "launching"
	ProcessErrored   ProcessStatus = "errored"
	ProcessUnknown   ProcessStatus = "unknown"
)

// ProcessInfo is the observed state of one worker process
type ProcessInfo struct {
	Name        string        `json:"name"`
	ID          int           `json:"pm_id"`
	PID         int           `json:"pid"`
	Status      ProcessStatus `json:"status"`
	ExecMode    ExecMode      `json:"exec_mode"`
	CPU         float64       `json:"cpu"`          // Percent
	MemoryBytes int64         `json:"memory_bytes"` // Resident set size
	Restarts    int           `json:"restarts"`
	Uptime      time.Duration `json:"uptime"`
}

// HealthState is the overall or per-check health state
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// CheckResult is the outcome of one named sub-check
type CheckResult struct {
	Status     HealthState `json:"status"`
	Value      *float64    `json:"value,omitempty"` // Optional numeric detail (e.g. usage percent)
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs float64     `json:"duration_ms"`
}

// HealthReport aggregates sub-check results at one point in time
type HealthReport struct {
	Status    HealthState            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    float64                `json:"uptime_seconds"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Healthy reports whether the overall status is healthy
func (r *HealthReport) Healthy() bool {
	return r != nil && r.Status == HealthHealthy
}

// AttemptKind distinguishes forward deployments from explicit rollbacks
type AttemptKind string

const (
	AttemptDeploy   AttemptKind = "deploy"
	AttemptRollback AttemptKind = "rollback"
)

// AttemptState is the lifecycle state of a DeploymentAttempt
type AttemptState string

const (
	AttemptPending        AttemptState = "pending"
	AttemptRunning        AttemptState = "running"
	AttemptSucceeded      AttemptState = "succeeded"
	AttemptFailed         AttemptState = "failed"
	AttemptRolledBack     AttemptState = "rolled_back"
	AttemptRollbackFailed AttemptState = "rollback_failed"
)

// StepRecord captures one executed pipeline step
type StepRecord struct {
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// DeploymentAttempt tracks one invocation of the deployment pipeline
type DeploymentAttempt struct {
	ID            string       `json:"id"`
	Kind          AttemptKind  `json:"kind"`
	State         AttemptState `json:"state"`
	CurrentStep   string       `json:"current_step,omitempty"`
	FailedStep    string       `json:"failed_step,omitempty"`
	Steps         []StepRecord `json:"steps"`
	Backup        *Backup      `json:"backup,omitempty"`
	ReleaseID     string       `json:"release_id,omitempty"`
	Error         string       `json:"error,omitempty"`
	RollbackError string       `json:"rollback_error,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at,omitempty"`
}

// NewDeploymentAttempt creates a pending attempt
func NewDeploymentAttempt(id string, kind AttemptKind) *DeploymentAttempt {
	return &DeploymentAttempt{
		ID:        id,
		Kind:      kind,
		State:     AttemptPending,
		StartedAt: time.Now(),
	}
}

// Begin marks step as in progress
func (a *DeploymentAttempt) Begin(step string) {
	a.State = AttemptRunning
	a.CurrentStep = step
	a.Steps = append(a.Steps, StepRecord{Name: step, StartedAt: time.Now()})
}

// Complete closes the current step record. A nil err means success.
func (a *DeploymentAttempt) Complete(err error, skipped bool) {
	if len(a.Steps) == 0 {
		return
	}
	rec := &a.Steps[len(a.Steps)-1]
	rec.Duration = time.Since(rec.StartedAt)
	rec.Skipped = skipped
	if err != nil {
		rec.Error = err.Error()
		a.FailedStep = rec.Name
		a.Error = err.Error()
		a.State = AttemptFailed
	}
}

// Succeed marks the attempt as finished successfully
func (a *DeploymentAttempt) Succeed() {
	a.State = AttemptSucceeded
	a.CurrentStep = ""
	a.FinishedAt = time.Now()
}

// RolledBack records the outcome of the rollback that followed a failure
func (a *DeploymentAttempt) RolledBack(err error) {
	if err != nil {
		a.State = AttemptRollbackFailed
		a.RollbackError = err.Error()
	} else {
		a.State = AttemptRolledBack
	}
	a.FinishedAt = time.Now()
}

// Fail marks the attempt failed without rollback
func (a *DeploymentAttempt) Fail() {
	a.State = AttemptFailed
	a.FinishedAt = time.Now()
}

// Finished reports whether the attempt reached a terminal state
func (a *DeploymentAttempt) Finished() bool {
	switch a.State {
	case AttemptSucceeded, AttemptFailed, AttemptRolledBack, AttemptRollbackFailed:
		return !a.FinishedAt.IsZero()
	}
	return false
}
