// Package store owns the durable schema: files, chunks, the FTS5 keyword
// index, the embedding cache, and sync metadata. SQLite with WAL; the
// chunks table is the source of truth and the FTS table is a rebuildable
// projection maintained in the same transaction. The project column uses
// "" for "no project".
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/trvdang/memex/internal/index"
)

// Meta keys managed by the sync controller.
const (
	MetaSchemaVersion     = "schema_version"
	MetaVectorDims        = "vector_dims"
	MetaLastFullReindexAt = "last_full_reindex_at"
)

// SchemaVersion is the current logical schema version. The value recorded
// in meta is written only after a successful sync; a stored value behind
// this constant forces a full reindex.
const SchemaVersion = 2

// Store is the SQLite-backed persistent store. All access is serialized
// through an RW mutex; the write lock also serializes the atomic swap of a
// full reindex against concurrent readers.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open opens (or creates) the index database, applies missing migrations,
// and removes rebuild artifacts left behind by an interrupted full
// reindex.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	cleanupRebuildArtifacts(path)

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("index store opened", "path", path)
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// --- meta ---

// GetMeta returns a sync metadata value.
func (s *Store) GetMeta(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	if err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

// SetMeta writes a sync metadata value. Callers must only do this after
// the writes it describes are durable.
func (s *Store) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// --- files ---

// GetFileHash returns the stored content hash for (path, source).
func (s *Store) GetFileHash(path string, source index.Source) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hash string
	err := s.db.QueryRow("SELECT hash FROM files WHERE path = ? AND source = ?", path, string(source)).Scan(&hash)
	if err != nil {
		return "", false
	}
	return hash, true
}

// ListFilePaths returns every indexed path for one source.
func (s *Store) ListFilePaths(source index.Source) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT path FROM files WHERE source = ?", string(source))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ReplaceFileChunks applies one logical write as a single transaction: the
// file record plus its full chunk set (and FTS rows) replace whatever was
// stored for (path, source). A reader never observes a file record
// pointing at a partially replaced chunk set.
func (s *Store) ReplaceFileChunks(ctx context.Context, file index.FileRecord, chunks []index.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO files (path, source, project, hash) VALUES (?, ?, ?, ?)`,
		file.Path, string(file.Source), file.Project, file.Hash); err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM chunks_fts WHERE path = ? AND source = ?", file.Path, string(file.Source)); err != nil {
		return fmt.Errorf("clear fts: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM chunks WHERE path = ? AND source = ?", file.Path, string(file.Source)); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	chunkStmt, err := tx.Prepare(`INSERT INTO chunks (id, path, source, project, start_line, end_line, hash, model, text, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`)
	if err != nil {
		return err
	}
	defer chunkStmt.Close()

	ftsStmt, err := tx.Prepare(`INSERT INTO chunks_fts (text, id, path, source, project, model, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ftsStmt.Close()

	for _, c := range chunks {
		embJSON, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := chunkStmt.Exec(c.ID, c.Path, string(c.Source), c.Project, c.StartLine, c.EndLine,
			c.Hash, c.Model, c.Text, string(embJSON)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
		if _, err := ftsStmt.Exec(c.Text, c.ID, c.Path, string(c.Source), c.Project, c.Model, c.StartLine, c.EndLine); err != nil {
			return fmt.Errorf("insert fts: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteFile removes the file record, its chunks, and their index rows,
// scoped to one source.
func (s *Store) DeleteFile(path string, source index.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tx.Exec("DELETE FROM chunks_fts WHERE path = ? AND source = ?", path, string(source))
	tx.Exec("DELETE FROM chunks WHERE path = ? AND source = ?", path, string(source))
	tx.Exec("DELETE FROM files WHERE path = ? AND source = ?", path, string(source))

	return tx.Commit()
}

// --- search projections ---

// SearchFTS runs a keyword query over the FTS5 index, normalizing the
// BM25 rank to a [0,1] score via 1/(1+|rank|). Filters mirror the vector
// path: model, source, and project (equal-or-unset).
func (s *Store) SearchFTS(query, model string, opts index.SearchOptions) ([]index.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	safe := sanitizeFTSQuery(query)
	if safe == "" {
		return nil, nil
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	where := " AND model = ?"
	args := []any{safe, model}
	if opts.Source != "" {
		where += " AND source = ?"
		args = append(args, string(opts.Source))
	}
	if opts.ProjectSet {
		where += " AND (project = ? OR project = '')"
		args = append(args, opts.Project)
	}
	args = append(args, maxResults)

	q := fmt.Sprintf(`SELECT id, path, source, project, start_line, end_line, text,
		1.0 / (1.0 + abs(rank)) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?%s
		ORDER BY rank
		LIMIT ?`, where)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var results []index.SearchResult
	for rows.Next() {
		var id, path, source, project, text string
		var startLine, endLine int
		var score float64
		if err := rows.Scan(&id, &path, &source, &project, &startLine, &endLine, &text, &score); err != nil {
			continue
		}
		results = append(results, index.SearchResult{
			Path:      path,
			StartLine: startLine,
			EndLine:   endLine,
			Score:     score,
			Snippet:   text,
			Source:    index.Source(source),
			Project:   project,
		})
	}
	return results, rows.Err()
}

// ChunksForVector returns the chunks eligible for vector scoring: rows
// with a non-empty embedding for the active model, restricted by the same
// source/project filters as the keyword path.
func (s *Store) ChunksForVector(model string, opts index.SearchOptions) ([]index.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := "model = ? AND embedding != '[]' AND embedding != 'null'"
	args := []any{model}
	if opts.Source != "" {
		where += " AND source = ?"
		args = append(args, string(opts.Source))
	}
	if opts.ProjectSet {
		where += " AND (project = ? OR project = '')"
		args = append(args, opts.Project)
	}

	rows, err := s.db.Query("SELECT id, path, source, project, start_line, end_line, hash, model, text, embedding FROM chunks WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []index.Chunk
	for rows.Next() {
		var c index.Chunk
		var source, embJSON string
		if err := rows.Scan(&c.ID, &c.Path, &source, &c.Project, &c.StartLine, &c.EndLine, &c.Hash, &c.Model, &c.Text, &embJSON); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(embJSON), &c.Embedding); err != nil {
			continue
		}
		c.Source = index.Source(source)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- embedding cache ---

// GetCachedEmbedding returns a cached vector for (hash, provider, model).
func (s *Store) GetCachedEmbedding(hash, provider, model string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var embJSON string
	err := s.db.QueryRow("SELECT embedding FROM embedding_cache WHERE hash = ? AND provider = ? AND model = ?",
		hash, provider, model).Scan(&embJSON)
	if err != nil {
		return nil, false
	}

	var emb []float32
	if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
		return nil, false
	}
	return emb, true
}

// CacheEmbedding stores a vector in the append-only cache.
func (s *Store) CacheEmbedding(hash, provider, model string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embJSON, _ := json.Marshal(vec)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO embedding_cache (hash, provider, model, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s','now'))`,
		hash, provider, model, string(embJSON), len(vec))
	return err
}

// PruneEmbeddingCache trims the cache to maxEntries, oldest first. The
// engine never calls this automatically; cache growth is otherwise
// unbounded.
func (s *Store) PruneEmbeddingCache(maxEntries int) error {
	if maxEntries <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM embedding_cache WHERE rowid IN (
		SELECT rowid FROM embedding_cache ORDER BY updated_at DESC LIMIT -1 OFFSET ?)`, maxEntries)
	return err
}

// --- counts ---

// SourceCount is a per-source row in the status report.
type SourceCount struct {
	Source index.Source `json:"source"`
	Files  int          `json:"files"`
	Chunks int          `json:"chunks"`
}

// Counts returns the total file and chunk counts.
func (s *Store) Counts() (files, chunks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&files)
	s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&chunks)
	return files, chunks
}

// SourceCounts returns per-source file and chunk counts.
func (s *Store) SourceCounts() ([]SourceCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT f.source, COUNT(DISTINCT f.path),
		(SELECT COUNT(*) FROM chunks c WHERE c.source = f.source)
		FROM files f GROUP BY f.source ORDER BY f.source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []SourceCount
	for rows.Next() {
		var sc SourceCount
		var source string
		if err := rows.Scan(&source, &sc.Files, &sc.Chunks); err != nil {
			continue
		}
		sc.Source = index.Source(source)
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}

// sanitizeFTSQuery strips FTS5 operator characters and quotes each token
// so user input is never interpreted as FTS syntax.
func sanitizeFTSQuery(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '"', '(', ')', '*', '^', ':', '{', '}', '-':
			return ' '
		default:
			return r
		}
	}, query)

	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, " ")
}
