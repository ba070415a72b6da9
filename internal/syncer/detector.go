package syncer

import (
	"log/slog"
	"strconv"

	"github.com/trvdang/memex/internal/store"
)

// Mode is the corpus-level sync decision.
type Mode int

const (
	// ModeIncremental re-processes only changed files and reconciles
	// stale records.
	ModeIncremental Mode = iota
	// ModeFull destructively rebuilds the whole store out of place.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// DecideMode picks the sync mode from the persisted sync metadata.
// A full reindex is forced by an explicit flag, a schema version behind
// the current one, or a dimensionality mismatch on a demonstrably
// non-empty store. A mismatch on an empty store is NOT destructive:
// a fresh store with no dims recorded yet must not be wiped in a loop.
// Metadata claiming completion over empty tables means an interrupted
// pass; the safe repair is to resume filling incrementally, never to
// repeat a possibly-interrupted destructive rebuild.
func DecideMode(st *store.Store, providerDims int, force bool) Mode {
	if force {
		return ModeFull
	}

	files, chunks := st.Counts()

	if v, ok := st.GetMeta(store.MetaSchemaVersion); ok {
		if n, err := strconv.Atoi(v); err == nil && n < store.SchemaVersion {
			slog.Info("schema version behind, full reindex", "stored", n, "current", store.SchemaVersion)
			return ModeFull
		}
		if files == 0 && chunks == 0 {
			slog.Warn("sync metadata present but store is empty, repairing incrementally")
			return ModeIncremental
		}
	}

	if providerDims > 0 && files+chunks > 0 {
		if v, ok := st.GetMeta(store.MetaVectorDims); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n != providerDims {
				slog.Info("embedding dimensions changed, full reindex", "stored", n, "active", providerDims)
				return ModeFull
			}
		}
	}

	return ModeIncremental
}
