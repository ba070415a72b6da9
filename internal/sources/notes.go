package sources

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/trvdang/memex/internal/index"
)

// NotesAdapter lists authored notes: markdown and plain-text files under a
// single root directory.
type NotesAdapter struct {
	Root string
}

func (a *NotesAdapter) Source() index.Source { return index.SourceNotes }

func (a *NotesAdapter) ListEntries(ctx context.Context) ([]index.Entry, error) {
	return listTextFiles(ctx, a.Root, index.SourceNotes, "")
}

// isNoteFile reports whether name looks like an indexable text file.
func isNoteFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// listTextFiles walks root and yields one entry per non-empty note file.
// A missing root is not an error: the source is simply empty.
func listTextFiles(ctx context.Context, root string, source index.Source, project string) ([]index.Entry, error) {
	if root == "" {
		return nil, nil
	}
	if _, err := os.Stat(root); err != nil {
		return nil, nil
	}

	var entries []index.Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("skip unreadable path", "path", path, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !isNoteFile(d.Name()) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Debug("skip unreadable file", "path", path, "error", err)
			return nil
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = d.Name()
		}
		entries = append(entries, index.Entry{
			Path:     path,
			Content:  content,
			Hash:     index.ContentHash(content),
			Project:  project,
			SourceID: rel,
		})
		return nil
	})
	if err != nil {
		return entries, err
	}
	return entries, nil
}
