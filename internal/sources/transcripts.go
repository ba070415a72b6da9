package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/trvdang/memex/internal/index"
)

// messageSeparator joins the text of adjacent messages in the flattened
// transcript blob.
const messageSeparator = "\n\n"

// SessionsAdapter lists this system's own conversation transcripts:
// newline-delimited JSON files where each indexable record has
// type "message" and a nested message payload.
type SessionsAdapter struct {
	Root string
}

func (a *SessionsAdapter) Source() index.Source { return index.SourceSessions }

func (a *SessionsAdapter) ListEntries(ctx context.Context) ([]index.Entry, error) {
	return listTranscripts(ctx, a.Root, index.SourceSessions, func(t string) bool {
		return t == "message"
	}, false)
}

// AssistantAdapter lists foreign assistant session logs. Records use
// type "user"/"assistant"; tool_use and tool_result content blocks are
// discarded, as are any other top-level record types (queue operations,
// summary markers). The project slug is derived from the parent directory.
type AssistantAdapter struct {
	Root string
}

func (a *AssistantAdapter) Source() index.Source { return index.SourceAssistant }

func (a *AssistantAdapter) ListEntries(ctx context.Context) ([]index.Entry, error) {
	return listTranscripts(ctx, a.Root, index.SourceAssistant, func(t string) bool {
		return t == "user" || t == "assistant"
	}, true)
}

func listTranscripts(ctx context.Context, root string, source index.Source, accept func(string) bool, withProject bool) ([]index.Entry, error) {
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
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			slog.Debug("skip unreadable transcript", "path", path, "error", err)
			return nil
		}
		content := ExtractTranscript(f, accept)
		f.Close()

		if strings.TrimSpace(content) == "" {
			return nil
		}

		project := ""
		if withProject {
			project = ProjectSlug(filepath.Dir(path))
		}
		entries = append(entries, index.Entry{
			Path:     path,
			Content:  content,
			Hash:     index.ContentHash(content),
			Project:  project,
			SourceID: strings.TrimSuffix(d.Name(), ".jsonl"),
		})
		return nil
	})
	if err != nil {
		return entries, err
	}
	return entries, nil
}

type transcriptRecord struct {
	Type    string             `json:"type"`
	Message *transcriptMessage `json:"message"`
}

type transcriptMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractTranscript reads newline-delimited JSON records and flattens the
// accepted messages into one text blob. Malformed lines are skipped
// individually; a bad record never fails the whole file.
func ExtractTranscript(r io.Reader, accept func(recordType string) bool) string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var parts []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec transcriptRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if !accept(rec.Type) || rec.Message == nil {
			continue
		}

		text := MessageText(rec.Message.Content)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, messageSeparator)
}

// MessageText extracts the textual content of a message payload. The
// payload is either a plain string or an array of typed blocks; only
// "text" blocks contribute.
func MessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	var parts []string
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if t := strings.TrimSpace(b.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, messageSeparator)
}
