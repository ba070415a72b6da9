package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const rebuildMarker = ".rebuild-"

// Rebuild is an out-of-place replacement dataset for a destructive full
// reindex. The new data is written to a temporary sibling database and
// only becomes visible through Commit's atomic swap; until then (and after
// any interruption) the previous dataset stays authoritative.
type Rebuild struct {
	Store *Store
	live  *Store
	path  string
}

// BeginRebuild opens a fresh, empty store next to the live database.
func (s *Store) BeginRebuild() (*Rebuild, error) {
	path := s.path + rebuildMarker + uuid.NewString()[:8]

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	rb := &Store{db: db, path: path}
	if err := migrate(db); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("migrate rebuild: %w", err)
	}

	slog.Info("full reindex started", "build", filepath.Base(path))
	return &Rebuild{Store: rb, live: s, path: path}, nil
}

// Commit checkpoints the rebuild database and swaps it into place. The
// live store's write lock blocks concurrent readers for the swap instant.
func (r *Rebuild) Commit() error {
	if _, err := r.Store.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Debug("rebuild checkpoint failed", "error", err)
	}
	if err := r.Store.db.Close(); err != nil {
		return fmt.Errorf("close rebuild db: %w", err)
	}

	r.live.mu.Lock()
	defer r.live.mu.Unlock()

	if err := r.live.db.Close(); err != nil {
		return fmt.Errorf("close live db: %w", err)
	}
	removeSidecars(r.live.path)

	if err := os.Rename(r.path, r.live.path); err != nil {
		// Reopen the previous dataset so the store stays usable.
		if db, openErr := openDB(r.live.path); openErr == nil {
			r.live.db = db
		}
		return fmt.Errorf("swap index: %w", err)
	}
	removeSidecars(r.path)

	db, err := openDB(r.live.path)
	if err != nil {
		return fmt.Errorf("reopen after swap: %w", err)
	}
	r.live.db = db

	slog.Info("full reindex committed", "path", r.live.path)
	return nil
}

// Abort discards the partially built dataset. The live store is untouched.
func (r *Rebuild) Abort() {
	r.Store.db.Close()
	os.Remove(r.path)
	removeSidecars(r.path)
}

// cleanupRebuildArtifacts removes temporary rebuild databases left behind
// by an interrupted full reindex.
func cleanupRebuildArtifacts(path string) {
	matches, err := filepath.Glob(path + rebuildMarker + "*")
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			slog.Info("removed stale rebuild artifact", "path", m)
		}
	}
}

func removeSidecars(path string) {
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
}
