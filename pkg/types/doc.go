/*
Package types defines the core data structures shared by the deployment
orchestrator, the process supervisor and the health probe.

# Core Types

Artifacts:
  - Release: immutable artifact set (build output plus manifest files),
    identified by a sortable timestamp ID
  - Backup: snapshot of the live artifact set taken before a release
    transition, optionally carrying per-file SHA-256 checksums

Processes:
  - ProcessSpec: one row of the desired process table (persisted so the
    process set can be resurrected after a host restart)
  - ProcessInfo: observed state of a single worker process
  - ExecMode, ProcessStatus: cluster/fork and online/stopped/errored/...

Health:
  - CheckResult: status, optional numeric value and error for one sub-check
  - HealthReport: timestamped aggregate; healthy iff every check is healthy

Deployments:
  - DeploymentAttempt: state machine for one pipeline invocation
    (pending → running → succeeded | failed → rolled_back | rollback_failed)
  - StepRecord: timing and outcome of one step

# Errors

errors.go holds the failure taxonomy (ErrPrerequisiteMissing,
ErrBuildIncomplete, ErrProcessReloadFailed, ErrEdgeConfigInvalid,
ErrHealthCheckTimeout, ErrRollbackFailed, ...). Components wrap them with %w
and the orchestrator classifies failures with errors.Is.
*/
package types
