package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/trvdang/memex/internal/embed"
	"github.com/trvdang/memex/internal/index"
	"github.com/trvdang/memex/internal/sources"
	"github.com/trvdang/memex/internal/store"
)

type fakeAdapter struct {
	source  index.Source
	entries []index.Entry
	listErr error
}

func (a *fakeAdapter) Source() index.Source { return a.source }

func (a *fakeAdapter) ListEntries(context.Context) ([]index.Entry, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.entries, nil
}

func entry(path, content string) index.Entry {
	return index.Entry{
		Path:     path,
		Content:  content,
		Hash:     index.ContentHash(content),
		SourceID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
}

type fakeProvider struct {
	calls  atomic.Int64
	failOn string
}

func (p *fakeProvider) Name() string    { return "fake" }
func (p *fakeProvider) Model() string   { return "fake-model" }
func (p *fakeProvider) Dimensions() int { return 3 }

func (p *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if p.failOn != "" && strings.Contains(t, p.failOn) {
			return nil, fmt.Errorf("provider rejected text")
		}
		out[i] = []float32{float32(len(t)), 1, 2}
	}
	return out, nil
}

func testController(t *testing.T, provider *fakeProvider, adapters ...sources.Adapter) (*Controller, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	var gw *embed.Gateway
	if provider != nil {
		gw, err = embed.NewGateway(provider, st, embed.GatewayConfig{})
		if err != nil {
			t.Fatalf("NewGateway: %v", err)
		}
	}
	return NewController(st, gw, adapters, Config{Concurrency: 2, TokenBudget: 250}), st
}

func TestSync_IndexesAndSkipsUnchanged(t *testing.T) {
	adapter := &fakeAdapter{source: index.SourceNotes, entries: []index.Entry{
		entry("a.md", "alpha note body with enough words"),
		entry("b.md", "beta note body with enough words"),
	}}
	provider := &fakeProvider{}
	c, st := testController(t, provider, adapter)

	report, err := c.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if report.Indexed != 2 || report.Skipped != 0 || report.Failed != 0 {
		t.Errorf("first sync report = %+v", report)
	}
	if report.Mode != "incremental" {
		t.Errorf("mode = %q, want incremental", report.Mode)
	}

	firstCalls := provider.calls.Load()
	if firstCalls == 0 {
		t.Fatal("provider never called on first sync")
	}

	// Unchanged content is detected by hash before any embedding work.
	report, err = c.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report.Indexed != 0 || report.Skipped != 2 {
		t.Errorf("second sync report = %+v", report)
	}
	if provider.calls.Load() != firstCalls {
		t.Error("provider called for unchanged files")
	}

	files, _ := st.Counts()
	if files != 2 {
		t.Errorf("files = %d, want 2", files)
	}
}

func TestSync_ChangeDetectionTouchesOnlyChangedFile(t *testing.T) {
	adapter := &fakeAdapter{source: index.SourceNotes, entries: []index.Entry{
		entry("a.md", "original alpha body"),
		entry("b.md", "original beta body"),
	}}
	c, _ := testController(t, &fakeProvider{}, adapter)

	if _, err := c.Sync(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	adapter.entries[0] = entry("a.md", "edited alpha body")
	report, err := c.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 1 indexed / 1 skipped", report)
	}
}

func TestSync_ReconcileScopedToSource(t *testing.T) {
	notes := &fakeAdapter{source: index.SourceNotes, entries: []index.Entry{
		entry("shared.md", "notes copy of the file"),
	}}
	ws := &fakeAdapter{source: index.SourceWorkspace, entries: []index.Entry{
		entry("shared.md", "workspace copy of the file"),
	}}
	c, st := testController(t, &fakeProvider{}, notes, ws)

	if _, err := c.Sync(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	// The file disappears from notes only.
	notes.entries = nil
	report, err := c.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", report.Deleted)
	}
	if _, ok := st.GetFileHash("shared.md", index.SourceNotes); ok {
		t.Error("stale notes record survived reconciliation")
	}
	if _, ok := st.GetFileHash("shared.md", index.SourceWorkspace); !ok {
		t.Error("workspace record deleted by notes reconciliation")
	}
}

func TestSync_AssistantExclusion(t *testing.T) {
	dir := t.TempDir()
	sessionsFile := filepath.Join(dir, "sessions.json")
	os.WriteFile(sessionsFile, []byte(`{"tg:1":{"cliSessionIds":{"assistant":"dup-session"}}}`), 0o644)

	adapter := &fakeAdapter{source: index.SourceAssistant, entries: []index.Entry{
		entry("dup-session.jsonl", "already captured elsewhere"),
		entry("unique-session.jsonl", "only exists here"),
	}}

	st, err := store.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	c := NewController(st, nil, []sources.Adapter{adapter}, Config{SessionsFile: sessionsFile})
	report, err := c.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != 1 {
		t.Fatalf("indexed = %d, want 1", report.Indexed)
	}
	if _, ok := st.GetFileHash("dup-session.jsonl", index.SourceAssistant); ok {
		t.Error("excluded session was indexed")
	}
	if _, ok := st.GetFileHash("unique-session.jsonl", index.SourceAssistant); !ok {
		t.Error("non-excluded session missing")
	}
}

func TestSync_ProviderFailureIsolatedPerFile(t *testing.T) {
	adapter := &fakeAdapter{source: index.SourceNotes, entries: []index.Entry{
		entry("good.md", "embeds without trouble"),
		entry("bad.md", "poison pill content"),
	}}
	c, st := testController(t, &fakeProvider{failOn: "poison"}, adapter)

	report, err := c.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("per-file provider failure must not fail the sync: %v", err)
	}
	if report.Indexed != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want 1 indexed / 1 failed", report)
	}

	// The failed file keeps no partial state and is retried next pass.
	if _, ok := st.GetFileHash("bad.md", index.SourceNotes); ok {
		t.Error("failed file left a file record behind")
	}
}

func TestSync_AdapterFailureSkipsSource(t *testing.T) {
	broken := &fakeAdapter{source: index.SourceSessions, listErr: fmt.Errorf("root unreadable")}
	working := &fakeAdapter{source: index.SourceNotes, entries: []index.Entry{
		entry("a.md", "still gets indexed"),
	}}
	c, _ := testController(t, &fakeProvider{}, broken, working)

	report, err := c.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("one broken source must not fail the sync: %v", err)
	}
	if report.Indexed != 1 {
		t.Errorf("indexed = %d, want 1", report.Indexed)
	}
}

func TestSync_ForceRebuildsFromScratch(t *testing.T) {
	adapter := &fakeAdapter{source: index.SourceNotes, entries: []index.Entry{
		entry("a.md", "first generation content"),
		entry("b.md", "goes away later"),
	}}
	c, st := testController(t, &fakeProvider{}, adapter)

	if _, err := c.Sync(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	adapter.entries = adapter.entries[:1]
	report, err := c.Sync(context.Background(), Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Mode != "full" {
		t.Fatalf("mode = %q, want full", report.Mode)
	}
	if report.Indexed != 1 {
		t.Errorf("indexed = %d, want 1 (rebuild starts empty)", report.Indexed)
	}
	if _, ok := st.GetFileHash("b.md", index.SourceNotes); ok {
		t.Error("dropped file survived the full rebuild")
	}
	if _, ok := st.GetFileHash("a.md", index.SourceNotes); !ok {
		t.Error("kept file missing after the swap")
	}
}

func TestSync_WritesMetaAfterSuccess(t *testing.T) {
	adapter := &fakeAdapter{source: index.SourceNotes, entries: []index.Entry{
		entry("a.md", "content"),
	}}
	c, st := testController(t, &fakeProvider{}, adapter)

	if _, err := c.Sync(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	if v, _ := st.GetMeta(store.MetaSchemaVersion); v != "2" {
		t.Errorf("schema_version = %q, want 2", v)
	}
	if v, _ := st.GetMeta(store.MetaVectorDims); v != "3" {
		t.Errorf("vector_dims = %q, want 3", v)
	}
}

func TestSync_StorageFailureAbortsPass(t *testing.T) {
	adapter := &fakeAdapter{source: index.SourceNotes, entries: []index.Entry{
		entry("a.md", "content"),
	}}
	c, st := testController(t, nil, adapter)

	st.Close()
	if _, err := c.Sync(context.Background(), Options{}); err == nil {
		t.Fatal("sync over a closed store must fail, not absorb the error")
	}
}

func TestDecideMode(t *testing.T) {
	open := func(t *testing.T) *store.Store {
		st, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { st.Close() })
		return st
	}
	seed := func(t *testing.T, st *store.Store) {
		file := index.FileRecord{Path: "a.md", Source: index.SourceNotes, Hash: "h"}
		chunk := index.Chunk{ID: "notes:a.md#0", Path: "a.md", Source: index.SourceNotes,
			StartLine: 1, EndLine: 1, Hash: "h", Model: "m", Text: "x"}
		if err := st.ReplaceFileChunks(context.Background(), file, []index.Chunk{chunk}); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("fresh store is incremental", func(t *testing.T) {
		if got := DecideMode(open(t), 3, false); got != ModeIncremental {
			t.Errorf("got %v", got)
		}
	})

	t.Run("force wins", func(t *testing.T) {
		if got := DecideMode(open(t), 0, true); got != ModeFull {
			t.Errorf("got %v", got)
		}
	})

	t.Run("schema behind forces full", func(t *testing.T) {
		st := open(t)
		seed(t, st)
		st.SetMeta(store.MetaSchemaVersion, "1")
		if got := DecideMode(st, 0, false); got != ModeFull {
			t.Errorf("got %v", got)
		}
	})

	t.Run("dims mismatch on populated store forces full", func(t *testing.T) {
		st := open(t)
		seed(t, st)
		st.SetMeta(store.MetaSchemaVersion, "2")
		st.SetMeta(store.MetaVectorDims, "768")
		if got := DecideMode(st, 1536, false); got != ModeFull {
			t.Errorf("got %v", got)
		}
	})

	t.Run("dims mismatch on empty store stays incremental", func(t *testing.T) {
		st := open(t)
		st.SetMeta(store.MetaVectorDims, "768")
		if got := DecideMode(st, 1536, false); got != ModeIncremental {
			t.Errorf("got %v", got)
		}
	})

	t.Run("meta over empty tables repairs incrementally", func(t *testing.T) {
		st := open(t)
		st.SetMeta(store.MetaSchemaVersion, "2")
		if got := DecideMode(st, 3, false); got != ModeIncremental {
			t.Errorf("got %v", got)
		}
	})
}
