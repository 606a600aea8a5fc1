/*
Package storage provides BoltDB-backed state persistence for portfolio-deploy.

The storage package implements the Store interface using bbolt as an
embedded, transactional key/value store. It keeps what must survive between
invocations of the deployment CLI: the history of deployment attempts, the
desired process table (so processes can be resurrected after a host
restart) and a pointer to the release currently live.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <StateDir>/state.db                │          │
	│  │  - Open timeout: 5s (single writer)         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  deployments  (<started-at>/<attempt ID>)   │          │
	│  │  processes    (process name)                │          │
	│  │  meta         (live_release)                │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

Deployment keys are prefixed with the attempt start time in a fixed-width,
lexically sortable layout, so a reverse cursor walk yields newest-first
history without decoding every record.

# Usage

	store, err := storage.NewBoltStore(cfg.Paths.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	store.SaveAttempt(attempt)
	history, _ := store.ListAttempts(10)
	store.PruneAttempts(cfg.Deploy.HistoryLimit)

Values are JSON-encoded types from pkg/types. Lookups of absent records
return an error wrapping types.ErrNotFound.

# Concurrency

bbolt allows one read-write transaction at a time and takes an exclusive
file lock on open. The 5 second open timeout turns a second concurrent
opener into an error instead of a hang; the deployment lock in pkg/deploy
normally prevents that situation altogether.
*/
package storage
