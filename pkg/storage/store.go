package storage

import (
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// Store defines the interface for deployment state storage
type Store interface {
	// Deployment history
	SaveAttempt(attempt *types.DeploymentAttempt) error
	GetAttempt(id string) (*types.DeploymentAttempt, error)
	ListAttempts(limit int) ([]*types.DeploymentAttempt, error)
	LastAttempt() (*types.DeploymentAttempt, error)
	PruneAttempts(keep int) (int, error)

	// Process table
	SaveProcesses(specs []*types.ProcessSpec) error
	ListProcesses() ([]*types.ProcessSpec, error)

	// Live release pointer
	SetLiveRelease(release *types.Release) error
	GetLiveRelease() (*types.Release, error)

	// Utility
	Close() error
}
