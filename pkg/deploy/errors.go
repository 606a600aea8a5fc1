package deploy

import (
	"errors"
	"fmt"

	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// Exit codes of the deployment CLI
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitRollbackFailed = 2
	ExitLocked         = 3
)

// Error reports a failed deployment: the step that failed, its cause and
// the outcome of the rollback that followed, if any
type Error struct {
	AttemptID   string
	Step        string
	Err         error
	RolledBack  bool  // A rollback ran
	RollbackErr error // Non-nil when that rollback failed
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("deployment failed at %s: %v", e.Step, e.Err)
	switch {
	case e.RollbackErr != nil:
		msg += fmt.Sprintf("; rollback failed: %v", e.RollbackErr)
	case e.RolledBack:
		msg += "; rolled back to previous release"
	}
	return msg
}

// Unwrap exposes both the step error and the rollback error to errors.Is
func (e *Error) Unwrap() []error {
	errs := []error{e.Err}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}

// ExitCode maps an error returned by the orchestrator to a process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, types.ErrDeployInProgress):
		return ExitLocked
	case errors.Is(err, types.ErrRollbackFailed):
		return ExitRollbackFailed
	default:
		return ExitFailure
	}
}
