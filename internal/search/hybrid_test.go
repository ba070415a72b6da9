package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/trvdang/memex/internal/embed"
	"github.com/trvdang/memex/internal/index"
	"github.com/trvdang/memex/internal/store"
)

type stubProvider struct {
	vec []float32
	err error
}

func (p *stubProvider) Name() string    { return "stub" }
func (p *stubProvider) Model() string   { return "stub-model" }
func (p *stubProvider) Dimensions() int { return len(p.vec) }

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = p.vec
	}
	return out, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedChunk(t *testing.T, st *store.Store, path, project, model, text string, emb []float32) {
	t.Helper()
	chunk := index.Chunk{
		ID:        index.ChunkID(index.SourceNotes, path, 0),
		Path:      path,
		Source:    index.SourceNotes,
		Project:   project,
		StartLine: 1,
		EndLine:   3,
		Hash:      index.ContentHash(text),
		Model:     model,
		Text:      text,
		Embedding: emb,
	}
	file := index.FileRecord{Path: path, Source: index.SourceNotes, Project: project, Hash: index.ContentHash(path)}
	if err := st.ReplaceFileChunks(context.Background(), file, []index.Chunk{chunk}); err != nil {
		t.Fatalf("seed %s: %v", path, err)
	}
}

func newTestEngine(t *testing.T, st *store.Store, provider *stubProvider) *Engine {
	t.Helper()
	gw, err := embed.NewGateway(provider, nil, embed.GatewayConfig{})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return NewEngine(st, gw, DefaultConfig())
}

func TestSearch_KeywordOnlyWithoutGateway(t *testing.T) {
	st := openTestStore(t)
	seedChunk(t, st, "a.md", "", "", "how to rotate kubernetes credentials safely", nil)
	seedChunk(t, st, "b.md", "", "", "grocery list for the weekend", nil)

	e := NewEngine(st, nil, DefaultConfig())
	results, err := e.Search(context.Background(), "kubernetes credentials", index.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "a.md" {
		t.Fatalf("results = %+v, want only a.md", results)
	}
}

func TestSearch_HybridMergeAndDedup(t *testing.T) {
	st := openTestStore(t)
	// Semantically close but without the query keyword.
	seedChunk(t, st, "semantic.md", "", "stub-model", "notes about credential rotation", []float32{1, 0, 0})
	// Keyword match with a weak vector signal: hit by both paths.
	seedChunk(t, st, "both.md", "", "stub-model", "zebra migration patterns", []float32{0.1, 1, 0})

	e := newTestEngine(t, st, &stubProvider{vec: []float32{1, 0, 0}})
	results, err := e.Search(context.Background(), "zebra", index.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	if results[0].Path != "semantic.md" {
		t.Errorf("top result = %s, want semantic.md (vector weight dominates)", results[0].Path)
	}

	// both.md was hit by both paths: one entry, combined score above the
	// pure keyword contribution.
	var both *index.SearchResult
	count := 0
	for i := range results {
		if results[i].Path == "both.md" {
			both = &results[i]
			count++
		}
	}
	if count != 1 {
		t.Fatalf("both.md appeared %d times, want 1", count)
	}
	if both.Score <= 0.3 {
		t.Errorf("combined score = %f, want > keyword-only 0.3", both.Score)
	}
}

func TestSearch_VectorFailureDegradesToKeyword(t *testing.T) {
	st := openTestStore(t)
	seedChunk(t, st, "a.md", "", "stub-model", "zebra herds in the savanna", []float32{1, 0, 0})

	e := newTestEngine(t, st, &stubProvider{err: fmt.Errorf("provider down")})
	results, err := e.Search(context.Background(), "zebra", index.SearchOptions{})
	if err != nil {
		t.Fatalf("vector failure must degrade, not error: %v", err)
	}
	if len(results) != 1 || results[0].Path != "a.md" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearch_ProjectFilter(t *testing.T) {
	st := openTestStore(t)
	seedChunk(t, st, "p1.md", "alpha", "", "zebra doc scoped to alpha", nil)
	seedChunk(t, st, "p2.md", "beta", "", "zebra doc scoped to beta", nil)
	seedChunk(t, st, "p3.md", "", "", "zebra doc with no project", nil)

	e := NewEngine(st, nil, DefaultConfig())
	results, err := e.Search(context.Background(), "zebra", index.SearchOptions{Project: "alpha", ProjectSet: true})
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]bool)
	for _, r := range results {
		got[r.Path] = true
	}
	if !got["p1.md"] || !got["p3.md"] {
		t.Errorf("filter must keep the named project and project-less docs: %v", got)
	}
	if got["p2.md"] {
		t.Error("filter leaked another project's doc")
	}
}

func TestSearch_MinScoreDropsWeakHits(t *testing.T) {
	st := openTestStore(t)
	// No keyword overlap, nearly orthogonal vector: weighted score well
	// under the floor.
	seedChunk(t, st, "weak.md", "", "stub-model", "unrelated content entirely", []float32{0.01, 1, 0})

	e := newTestEngine(t, st, &stubProvider{vec: []float32{1, 0, 0}})
	results, err := e.Search(context.Background(), "zebra", index.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("weak hit survived the score floor: %+v", results)
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, nil, DefaultConfig())
	results, err := e.Search(context.Background(), "anything at all", index.SearchOptions{})
	if err != nil {
		t.Fatalf("empty store must not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from an empty store", len(results))
	}
}

func TestSearch_MaxResults(t *testing.T) {
	st := openTestStore(t)
	for i := 0; i < 10; i++ {
		seedChunk(t, st, fmt.Sprintf("n%d.md", i), "", "", fmt.Sprintf("zebra entry number %d", i), nil)
	}

	e := NewEngine(st, nil, DefaultConfig())
	results, err := e.Search(context.Background(), "zebra", index.SearchOptions{MaxResults: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors: %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched dims must score 0, got %f", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors must score 0, got %f", got)
	}
}

func TestTruncateSnippet_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 100) // 2 bytes per rune

	got := truncateSnippet(s, 51)
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a multi-byte rune")
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got)
	}
	if len(got) > 51+3 {
		t.Errorf("len = %d, want <= 54", len(got))
	}

	if got := truncateSnippet("short", 100); got != "short" {
		t.Errorf("under-limit snippet changed: %q", got)
	}
}
