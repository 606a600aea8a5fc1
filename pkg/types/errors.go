package types

import "errors"

// Deployment failure taxonomy. Components wrap these with fmt.Errorf("%w: ...")
// so callers can classify failures with errors.Is.
var (
	// ErrPrerequisiteMissing indicates a required tool, runtime or directory is absent.
	ErrPrerequisiteMissing = errors.New("prerequisite missing")

	// ErrBuildIncomplete indicates the build finished without producing the entry file.
	ErrBuildIncomplete = errors.New("build incomplete")

	// ErrProcessReloadFailed indicates the supervisor could not bring the main service online.
	ErrProcessReloadFailed = errors.New("process reload failed")

	// ErrEdgeConfigInvalid indicates the reverse-proxy configuration failed validation.
	ErrEdgeConfigInvalid = errors.New("edge config invalid")

	// ErrHealthCheckTimeout indicates the bounded health-check attempts were exhausted.
	ErrHealthCheckTimeout = errors.New("health check timeout")

	// ErrRollbackFailed indicates the rollback could not restore a healthy service.
	// Manual intervention is required.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrStepFailed covers step failures outside the specific kinds above
	// (hooks, filesystem I/O, external commands).
	ErrStepFailed = errors.New("step failed")

	// ErrBackupNotFound indicates a backup reference does not exist on disk.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDeployInProgress indicates another deployment holds the deploy lock.
	ErrDeployInProgress = errors.New("deployment already in progress")
)
