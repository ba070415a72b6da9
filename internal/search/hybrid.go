// Package search implements the hybrid query engine: an embedding
// similarity path and a keyword path run over the store and merge into one
// ranked, deduplicated result list.
package search

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/trvdang/memex/internal/embed"
	"github.com/trvdang/memex/internal/index"
	"github.com/trvdang/memex/internal/store"
)

// Config carries the merge policy. The 70/30 weighting is a tunable
// default, not a contract.
type Config struct {
	VectorWeight  float64
	TextWeight    float64
	MinScore      float64
	MaxResults    int
	SnippetMaxLen int
}

// DefaultConfig returns the stock merge policy.
func DefaultConfig() Config {
	return Config{
		VectorWeight:  0.7,
		TextWeight:    0.3,
		MinScore:      0.15,
		MaxResults:    6,
		SnippetMaxLen: 700,
	}
}

// Engine executes hybrid queries. With no embedding gateway it degrades to
// keyword-only search.
type Engine struct {
	store   *store.Store
	gateway *embed.Gateway
	cfg     Config
}

func NewEngine(st *store.Store, gateway *embed.Gateway, cfg Config) *Engine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 6
	}
	if cfg.SnippetMaxLen <= 0 {
		cfg.SnippetMaxLen = 700
	}
	return &Engine{store: st, gateway: gateway, cfg: cfg}
}

// Search runs both retrieval paths and merges them. A query against an
// empty or partially synced store returns an empty list, never an error.
func (e *Engine) Search(ctx context.Context, query string, opts index.SearchOptions) ([]index.SearchResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = e.cfg.MaxResults
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = e.cfg.MinScore
	}

	model := ""
	if e.gateway != nil {
		model = e.gateway.Provider().Model()
	}

	// Both paths fetch extra candidates so the merge has overlap to work
	// with before truncation.
	wideOpts := opts
	wideOpts.MaxResults = maxResults * 4

	ftsResults, ftsErr := e.store.SearchFTS(query, model, wideOpts)
	if ftsErr != nil {
		return nil, ftsErr
	}

	var vecResults []index.SearchResult
	if e.gateway != nil {
		var err error
		vecResults, err = e.vectorSearch(ctx, query, model, wideOpts)
		if err != nil {
			// Degrade to keyword-only rather than failing the query.
			slog.Warn("vector search unavailable", "error", err)
			vecResults = nil
		}
	}

	merged := e.merge(vecResults, ftsResults)

	out := merged[:0]
	for _, r := range merged {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	for i := range out {
		out[i].Snippet = truncateSnippet(out[i].Snippet, e.cfg.SnippetMaxLen)
	}
	return out, nil
}

// vectorSearch embeds the query and scores eligible chunks by cosine
// similarity, brute force. The chunks table is the vector index
// projection; nothing here is source of truth.
func (e *Engine) vectorSearch(ctx context.Context, query, model string, opts index.SearchOptions) ([]index.SearchResult, error) {
	queryVec, err := e.gateway.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks, err := e.store.ChunksForVector(model, opts)
	if err != nil {
		return nil, err
	}

	type scored struct {
		chunk index.Chunk
		score float64
	}
	var hits []scored
	for _, c := range chunks {
		sim := CosineSimilarity(queryVec, c.Embedding)
		if sim > 0 {
			hits = append(hits, scored{chunk: c, score: sim})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if opts.MaxResults > 0 && len(hits) > opts.MaxResults {
		hits = hits[:opts.MaxResults]
	}

	results := make([]index.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = index.SearchResult{
			Path:      h.chunk.Path,
			StartLine: h.chunk.StartLine,
			EndLine:   h.chunk.EndLine,
			Score:     h.score,
			Snippet:   h.chunk.Text,
			Source:    h.chunk.Source,
			Project:   h.chunk.Project,
		}
	}
	return results, nil
}

type mergeKey struct {
	path      string
	source    index.Source
	startLine int
}

// merge combines the two ranking spaces with the configured weighting.
// Keyword scores are normalized to their max before weighting; a chunk
// present in both paths gets the sum of its weighted scores. Ordering is
// deterministic: stable sort over vector-then-keyword insertion order.
func (e *Engine) merge(vec, fts []index.SearchResult) []index.SearchResult {
	if len(fts) > 0 {
		maxScore := fts[0].Score
		for _, r := range fts {
			if r.Score > maxScore {
				maxScore = r.Score
			}
		}
		if maxScore > 0 {
			for i := range fts {
				fts[i].Score /= maxScore
			}
		}
	}

	seen := make(map[mergeKey]int, len(vec)+len(fts))
	var merged []index.SearchResult

	for _, r := range vec {
		r.Score *= e.cfg.VectorWeight
		seen[mergeKey{r.Path, r.Source, r.StartLine}] = len(merged)
		merged = append(merged, r)
	}
	for _, r := range fts {
		k := mergeKey{r.Path, r.Source, r.StartLine}
		if i, ok := seen[k]; ok {
			merged[i].Score += r.Score * e.cfg.TextWeight
			continue
		}
		r.Score *= e.cfg.TextWeight
		seen[k] = len(merged)
		merged = append(merged, r)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// CosineSimilarity computes cosine similarity between two vectors,
// returning 0 for mismatched or empty inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// truncateSnippet bounds a snippet to maxLen bytes, cutting on a rune
// boundary so a multi-byte character is never split.
func truncateSnippet(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
