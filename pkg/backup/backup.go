package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/fsutil"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// Prefix of every backup directory name
	Prefix = "backup-"

	// metadataFile is written last and marks a backup as complete
	metadataFile = "backup.json"
	dataDir      = "data"

	// ReleaseManifest is the file a release carries at its root
	ReleaseManifest = "release.json"
)

// Mirror copies a finished backup off-host
type Mirror interface {
	Upload(ctx context.Context, b *types.Backup) error
}

// Options configures a Manager
type Options struct {
	LiveDir         string   // Live artifact tree to snapshot
	BackupDir       string   // Root holding backup-<timestamp> directories
	StagingDir      string   // Where restored releases are materialized
	Exclude         []string // doublestar patterns relative to LiveDir
	Checksums       bool     // Record SHA-256 per file
	VerifyOnRestore bool     // Verify recorded checksums when restoring
	Mirror          Mirror   // Optional off-host copy
}

// Manager creates, lists, restores and prunes backups of the live tree
type Manager struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager creates a backup manager, ensuring BackupDir exists
func NewManager(opts Options) (*Manager, error) {
	if opts.LiveDir == "" || opts.BackupDir == "" {
		return nil, fmt.Errorf("backup: live and backup directories are required")
	}
	if opts.StagingDir == "" {
		opts.StagingDir = filepath.Join(opts.BackupDir, ".staging")
	}
	if err := os.MkdirAll(opts.BackupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Manager{
		opts:   opts,
		logger: log.WithComponent("backup"),
		now:    time.Now,
	}, nil
}

// Create snapshots the live tree into a new backup directory. An absent or
// empty live tree still yields a backup so every release transition has one.
func (m *Manager) Create(ctx context.Context) (*types.Backup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, dir, err := m.allocate()
	if err != nil {
		return nil, err
	}

	stats, err := fsutil.CopyTree(m.opts.LiveDir, filepath.Join(dir, dataDir), fsutil.CopyOptions{
		Exclude:   m.opts.Exclude,
		Checksums: m.opts.Checksums,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: backup copy: %v", types.ErrStepFailed, err)
	}

	b := &types.Backup{
		ID:        id,
		CreatedAt: m.now().UTC(),
		Dir:       dir,
		ReleaseID: liveReleaseID(m.opts.LiveDir),
		Files:     stats.Files,
		Bytes:     stats.Bytes,
		Checksums: stats.Checksums,
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, metadataFile), b); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: backup metadata: %v", types.ErrStepFailed, err)
	}

	m.logger.Info().
		Str("backup_id", b.ID).
		Str("dir", b.Dir).
		Int("files", b.Files).
		Int64("bytes", b.Bytes).
		Msg("Backup created")

	if m.opts.Mirror != nil {
		if err := m.opts.Mirror.Upload(ctx, b); err != nil {
			m.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("Backup mirror upload failed")
		}
	}

	return b, nil
}

// allocate reserves a unique backup directory named after the current time
func (m *Manager) allocate() (string, string, error) {
	t := m.now()
	for i := 0; i < 100; i++ {
		id := Prefix + types.NewReleaseID(t.Add(time.Duration(i)))
		dir := filepath.Join(m.opts.BackupDir, id)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("%w: create backup directory: %v", types.ErrStepFailed, err)
		}
	}
	return "", "", fmt.Errorf("%w: could not allocate backup directory", types.ErrStepFailed)
}

// Restore materializes ref as a staged release ready to be swapped in by the
// supervisor. The staged tree is byte-identical to the backed-up tree.
func (m *Manager) Restore(ctx context.Context, ref *types.Backup) (*types.Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: no backup reference", types.ErrBackupNotFound)
	}
	if _, err := os.Stat(ref.Dir); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrBackupNotFound, ref.Dir)
	}
	if _, err := os.Stat(filepath.Join(ref.Dir, metadataFile)); err != nil {
		return nil, fmt.Errorf("%w: %s is incomplete, no %s", types.ErrBackupNotFound, ref.ID, metadataFile)
	}

	src := filepath.Join(ref.Dir, dataDir)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s has no %s directory", types.ErrBackupNotFound, ref.ID, dataDir)
	}
	staged := filepath.Join(m.opts.StagingDir, "restore-"+ref.ID)
	if err := os.RemoveAll(staged); err != nil {
		return nil, fmt.Errorf("%w: clear staging: %v", types.ErrStepFailed, err)
	}
	stats, err := fsutil.CopyTree(src, staged, fsutil.CopyOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: restore copy: %v", types.ErrStepFailed, err)
	}

	if m.opts.VerifyOnRestore && len(ref.Checksums) > 0 {
		if err := fsutil.VerifyChecksums(staged, ref.Checksums); err != nil {
			os.RemoveAll(staged)
			return nil, fmt.Errorf("%w: backup %s: %v", types.ErrStepFailed, ref.ID, err)
		}
	}

	releaseID := ref.ReleaseID
	if releaseID == "" {
		releaseID = ref.ID
	}

	m.logger.Info().
		Str("backup_id", ref.ID).
		Str("release_id", releaseID).
		Int("files", stats.Files).
		Msg("Backup restored to staging")

	return &types.Release{
		ID:        releaseID,
		CreatedAt: m.now().UTC(),
		Dir:       staged,
		Files:     topLevel(staged),
		Source:    "backup:" + ref.ID,
	}, nil
}

// List returns all complete backups, newest first. Directories without
// metadata are left over from interrupted runs and are not listed.
func (m *Manager) List() ([]*types.Backup, error) {
	backups, _, err := m.scan()
	return backups, err
}

// scan splits the backup directory into complete backups, newest first,
// and the directories of incomplete ones
func (m *Manager) scan() ([]*types.Backup, []string, error) {
	entries, err := os.ReadDir(m.opts.BackupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var (
		backups    []*types.Backup
		incomplete []string
	)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		dir := filepath.Join(m.opts.BackupDir, e.Name())
		b := &types.Backup{}
		if err := fsutil.ReadJSON(filepath.Join(dir, metadataFile), b); err != nil {
			m.logger.Debug().Err(err).Str("dir", dir).Msg("Skipping incomplete backup")
			incomplete = append(incomplete, dir)
			continue
		}
		b.ID = e.Name()
		b.Dir = dir
		backups = append(backups, b)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ID > backups[j].ID
	})
	return backups, incomplete, nil
}

// Latest returns the most recent backup
func (m *Manager) Latest() (*types.Backup, error) {
	backups, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, fmt.Errorf("%w: no backups in %s", types.ErrBackupNotFound, m.opts.BackupDir)
	}
	return backups[0], nil
}

// Get returns the backup with the given ID
func (m *Manager) Get(id string) (*types.Backup, error) {
	backups, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, b := range backups {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrBackupNotFound, id)
}

// Cleanup deletes every backup beyond the keep most recent ones and returns
// what it deleted. Incomplete backups are swept and never count toward
// keep. Running it again deletes nothing.
func (m *Manager) Cleanup(keep int) ([]*types.Backup, error) {
	if keep < 1 {
		return nil, fmt.Errorf("backup: keep must be at least 1, got %d", keep)
	}

	backups, incomplete, err := m.scan()
	if err != nil {
		return nil, err
	}
	for _, dir := range incomplete {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("%w: remove incomplete backup %s: %v", types.ErrStepFailed, dir, err)
		}
		m.logger.Warn().Str("dir", dir).Msg("Incomplete backup removed")
	}
	if len(backups) <= keep {
		return nil, nil
	}

	var deleted []*types.Backup
	for _, b := range backups[keep:] {
		if err := os.RemoveAll(b.Dir); err != nil {
			return deleted, fmt.Errorf("%w: remove backup %s: %v", types.ErrStepFailed, b.ID, err)
		}
		m.logger.Info().Str("backup_id", b.ID).Msg("Old backup removed")
		deleted = append(deleted, b)
	}

	// Leftovers from interrupted restores
	_ = os.RemoveAll(m.opts.StagingDir)

	return deleted, nil
}

func liveReleaseID(liveDir string) string {
	var rel types.Release
	if err := fsutil.ReadJSON(filepath.Join(liveDir, ReleaseManifest), &rel); err != nil {
		return ""
	}
	return rel.ID
}

func topLevel(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
