package sources

import (
	"context"

	"github.com/trvdang/memex/internal/index"
)

// WorkspaceAdapter lists notes trees inside external repositories. Each
// configured root contributes its note files under a project slug derived
// from the root's directory name.
type WorkspaceAdapter struct {
	Roots []string
}

func (a *WorkspaceAdapter) Source() index.Source { return index.SourceWorkspace }

func (a *WorkspaceAdapter) ListEntries(ctx context.Context) ([]index.Entry, error) {
	var entries []index.Entry
	for _, root := range a.Roots {
		project := ProjectSlug(root)
		got, err := listTextFiles(ctx, root, index.SourceWorkspace, project)
		if err != nil {
			return entries, err
		}
		entries = append(entries, got...)
	}
	return entries, nil
}
