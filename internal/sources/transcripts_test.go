package sources

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trvdang/memex/internal/index"
)

func acceptForeign(t string) bool { return t == "user" || t == "assistant" }
func acceptOwn(t string) bool     { return t == "message" }

func TestExtractTranscript_TextBlocksOnly(t *testing.T) {
	jsonl := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"the answer"},{"type":"tool_use","id":"t1","name":"run","input":{}}]}}`

	got := ExtractTranscript(strings.NewReader(jsonl), acceptForeign)
	if got != "the answer" {
		t.Errorf("extracted = %q, want %q", got, "the answer")
	}
}

func TestExtractTranscript_JoinsWithSeparator(t *testing.T) {
	jsonl := `{"type":"user","message":{"role":"user","content":"first question"}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first answer"},{"type":"tool_result","content":"ignored"}]}}`

	got := ExtractTranscript(strings.NewReader(jsonl), acceptForeign)
	want := "first question\n\nfirst answer"
	if got != want {
		t.Errorf("extracted = %q, want %q", got, want)
	}
}

func TestExtractTranscript_SkipsMalformedAndUnknown(t *testing.T) {
	jsonl := `not json at all
{"type":"queue-operation","op":"drain"}
{"type":"summary","summary":"session recap"}
{"type":"user","message":{"role":"user","content":"kept"}}
{broken`

	got := ExtractTranscript(strings.NewReader(jsonl), acceptForeign)
	if got != "kept" {
		t.Errorf("extracted = %q, want %q", got, "kept")
	}
}

func TestExtractTranscript_OwnMessageType(t *testing.T) {
	jsonl := `{"type":"message","message":{"role":"user","content":"hello there"}}
{"type":"user","message":{"role":"user","content":"foreign shape, ignored here"}}`

	got := ExtractTranscript(strings.NewReader(jsonl), acceptOwn)
	if got != "hello there" {
		t.Errorf("extracted = %q, want %q", got, "hello there")
	}
}

func TestSessionsAdapter_ListEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "abc123.jsonl"),
		`{"type":"message","message":{"role":"user","content":"remember the deploy steps"}}`+"\n")
	// Whitespace-only content must yield no entry.
	writeFile(t, filepath.Join(dir, "empty.jsonl"),
		`{"type":"message","message":{"role":"user","content":"   "}}`+"\n")

	a := &SessionsAdapter{Root: dir}
	entries, err := a.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.SourceID != "abc123" {
		t.Errorf("source id = %q, want abc123", e.SourceID)
	}
	if e.Hash != index.ContentHash(e.Content) {
		t.Error("hash does not match content")
	}
	if e.Project != "" {
		t.Errorf("own sessions carry no project, got %q", e.Project)
	}
}

func TestAssistantAdapter_ProjectFromParentDir(t *testing.T) {
	dir := t.TempDir()
	projDir := filepath.Join(dir, "ws--myrepo")
	os.MkdirAll(projDir, 0o755)
	writeFile(t, filepath.Join(projDir, "f00d.jsonl"),
		`{"type":"user","message":{"role":"user","content":"question about myrepo"}}`+"\n")

	a := &AssistantAdapter{Root: dir}
	entries, err := a.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Project != "myrepo" {
		t.Errorf("project = %q, want myrepo", entries[0].Project)
	}
	if entries[0].SourceID != "f00d" {
		t.Errorf("source id = %q, want f00d", entries[0].SourceID)
	}
}

func TestAdapters_MissingRoot(t *testing.T) {
	for _, a := range []Adapter{
		&NotesAdapter{Root: "/nonexistent/notes"},
		&SessionsAdapter{Root: "/nonexistent/sessions"},
		&AssistantAdapter{Root: "/nonexistent/assistant"},
		&WorkspaceAdapter{Roots: []string{"/nonexistent/repo"}},
	} {
		entries, err := a.ListEntries(context.Background())
		if err != nil {
			t.Errorf("%s: missing root returned error: %v", a.Source(), err)
		}
		if len(entries) != 0 {
			t.Errorf("%s: missing root returned %d entries", a.Source(), len(entries))
		}
	}
}

func TestNotesAdapter_SkipsEmptyAndNonText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.md"), "# Notes\n\nSomething worth keeping.")
	writeFile(t, filepath.Join(dir, "blank.md"), "   \n\n")
	writeFile(t, filepath.Join(dir, "image.png"), "binary")

	a := &NotesAdapter{Root: dir}
	entries, err := a.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if filepath.Base(entries[0].Path) != "good.md" {
		t.Errorf("path = %q", entries[0].Path)
	}
}

func TestWorkspaceAdapter_ProjectPerRoot(t *testing.T) {
	dir := t.TempDir()
	repo := filepath.Join(dir, "acme-docs")
	os.MkdirAll(repo, 0o755)
	writeFile(t, filepath.Join(repo, "NOTES.md"), "workspace note body")

	a := &WorkspaceAdapter{Roots: []string{repo}}
	entries, err := a.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Project != "acme-docs" {
		t.Errorf("project = %q, want acme-docs", entries[0].Project)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
