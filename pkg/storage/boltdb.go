package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/types"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var (
	// Bucket names
	bucketDeployments = []byte("deployments")
	bucketProcesses   = []byte("processes")
	bucketMeta        = []byte("meta")

	keyLiveRelease = []byte("live_release")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "state.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		// Another deployment holds the database for its whole run
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s is locked", types.ErrDeployInProgress, dbPath)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketDeployments,
			bucketProcesses,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// attemptKey orders attempts by start time; the ID suffix keeps keys unique
func attemptKey(a *types.DeploymentAttempt) []byte {
	return []byte(a.StartedAt.UTC().Format(types.ReleaseIDFormat) + "/" + a.ID)
}

// Deployment operations
func (s *BoltStore) SaveAttempt(attempt *types.DeploymentAttempt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data, err := json.Marshal(attempt)
		if err != nil {
			return err
		}
		return b.Put(attemptKey(attempt), data)
	})
}

func (s *BoltStore) GetAttempt(id string) (*types.DeploymentAttempt, error) {
	var found *types.DeploymentAttempt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(k, v []byte) error {
			var attempt types.DeploymentAttempt
			if err := json.Unmarshal(v, &attempt); err != nil {
				return err
			}
			if attempt.ID == id {
				found = &attempt
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: deployment %s", types.ErrNotFound, id)
	}
	return found, nil
}

// ListAttempts returns up to limit attempts, newest first. A limit <= 0
// returns all of them.
func (s *BoltStore) ListAttempts(limit int) ([]*types.DeploymentAttempt, error) {
	var attempts []*types.DeploymentAttempt
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeployments).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(attempts) >= limit {
				break
			}
			var attempt types.DeploymentAttempt
			if err := json.Unmarshal(v, &attempt); err != nil {
				return err
			}
			attempts = append(attempts, &attempt)
		}
		return nil
	})
	return attempts, err
}

func (s *BoltStore) LastAttempt() (*types.DeploymentAttempt, error) {
	attempts, err := s.ListAttempts(1)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("%w: no deployments recorded", types.ErrNotFound)
	}
	return attempts[0], nil
}

// PruneAttempts deletes all but the keep newest attempts
func (s *BoltStore) PruneAttempts(keep int) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		var stale [][]byte
		c := b.Cursor()
		seen := 0
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Process operations

// SaveProcesses replaces the persisted process table
func (s *BoltStore) SaveProcesses(specs []*types.ProcessSpec) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketProcesses); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketProcesses)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			data, err := json.Marshal(spec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(spec.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListProcesses() ([]*types.ProcessSpec, error) {
	var specs []*types.ProcessSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcesses)
		return b.ForEach(func(k, v []byte) error {
			var spec types.ProcessSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			specs = append(specs, &spec)
			return nil
		})
	})
	return specs, err
}

// Live release operations
func (s *BoltStore) SetLiveRelease(release *types.Release) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		data, err := json.Marshal(release)
		if err != nil {
			return err
		}
		return b.Put(keyLiveRelease, data)
	})
}

func (s *BoltStore) GetLiveRelease() (*types.Release, error) {
	var release types.Release
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		data := b.Get(keyLiveRelease)
		if data == nil {
			return fmt.Errorf("%w: live release", types.ErrNotFound)
		}
		return json.Unmarshal(data, &release)
	})
	if err != nil {
		return nil, err
	}
	return &release, nil
}
