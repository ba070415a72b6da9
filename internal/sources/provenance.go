package sources

import (
	"encoding/json"
	"log/slog"
	"os"
)

// sessionRecord is one entry in the session-tracking store. The foreign
// session id may appear under the cliSessionIds map (current shape) or the
// flat legacy field; both are decoded and either may be absent.
type sessionRecord struct {
	CLISessionIDs      map[string]string `json:"cliSessionIds"`
	AssistantSessionID string            `json:"assistantSessionId"`
}

// LoadExcludedSessionIDs reads the session-tracking store and returns the
// set of foreign session ids that originated from this system's own
// transcripts, so the same conversation is never indexed from two vantage
// points. A missing file, malformed JSON, or an unexpected top-level array
// all resolve to an empty set, never an error.
func LoadExcludedSessionIDs(path, cliName string) map[string]struct{} {
	ids := make(map[string]struct{})
	if path == "" {
		return ids
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ids
	}

	var records map[string]sessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Debug("session store not a map, skipping dedup", "path", path, "error", err)
		return ids
	}

	for _, rec := range records {
		if id, ok := rec.CLISessionIDs[cliName]; ok && id != "" {
			ids[id] = struct{}{}
			continue
		}
		if rec.AssistantSessionID != "" {
			ids[rec.AssistantSessionID] = struct{}{}
		}
	}
	return ids
}
