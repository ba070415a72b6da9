// Package sources implements the source adapters: each adapter normalizes
// one kind of on-disk content (authored notes, own transcripts, foreign
// assistant transcripts, external workspace notes) into index entries.
// Adapters are safe to call repeatedly and report an empty set when their
// root directory does not exist.
package sources

import (
	"context"

	"github.com/trvdang/memex/internal/index"
)

// Adapter lists the current entries of one logical source.
type Adapter interface {
	Source() index.Source
	ListEntries(ctx context.Context) ([]index.Entry, error)
}
