// Package index defines the shared types of the knowledge-index engine:
// sources, entries produced by source adapters, file and chunk records,
// and search results. Every other package speaks in these types.
package index

import (
	"crypto/sha256"
	"fmt"
)

// Source identifies a logical origin of indexable content.
type Source string

const (
	// SourceNotes is manually authored notes (markdown/plain text).
	SourceNotes Source = "notes"
	// SourceSessions is this system's own conversation transcripts.
	SourceSessions Source = "sessions"
	// SourceAssistant is third-party assistant session logs.
	SourceAssistant Source = "assistant"
	// SourceWorkspace is notes trees inside external repositories.
	SourceWorkspace Source = "workspace"
)

// AllSources lists every known source in sync order.
var AllSources = []Source{SourceNotes, SourceSessions, SourceAssistant, SourceWorkspace}

// Valid reports whether s names a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceNotes, SourceSessions, SourceAssistant, SourceWorkspace:
		return true
	}
	return false
}

// Entry is one unit of content reported by a source adapter: a normalized
// text blob plus provenance. SourceID is a stable identifier distinct from
// the path (used for cross-source deduplication of transcripts).
type Entry struct {
	Path     string
	Content  string
	Hash     string
	Project  string // "" means no project grouping
	SourceID string
}

// FileRecord is the persisted per-file state used for change detection.
// (Path, Source) is unique.
type FileRecord struct {
	Path    string
	Source  Source
	Project string
	Hash    string
}

// Chunk is a bounded passage of text extracted from a file, the unit of
// embedding and retrieval. Chunks are wholly owned by their file record
// and replaced as a set whenever the file changes.
type Chunk struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Source    Source    `json:"source"`
	Project   string    `json:"project,omitempty"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Hash      string    `json:"hash"`
	Model     string    `json:"model"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	UpdatedAt int64     `json:"updated_at"`
}

// ChunkID builds the deterministic chunk identifier for the n-th chunk of
// a file. Identical content always yields identical ids.
func ChunkID(source Source, path string, n int) string {
	return fmt.Sprintf("%s:%s#%d", source, path, n)
}

// SearchResult is a single ranked hit with provenance.
type SearchResult struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
	Source    Source  `json:"source"`
	Project   string  `json:"project,omitempty"`
}

// SearchOptions configures a search query. A set Project filter matches
// chunks whose project equals the value or is empty; ProjectSet
// distinguishes "no filter" from "filter to the empty project".
type SearchOptions struct {
	MaxResults int
	MinScore   float64
	Source     Source // "" means all sources
	Project    string
	ProjectSet bool
}

// ContentHash returns the truncated SHA-256 hex digest of text, the
// engine-wide content identity for change detection and embedding reuse.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h[:16])
}
