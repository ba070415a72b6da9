package sources

import (
	"path/filepath"
	"strings"
)

// projectMarker separates an encoding prefix from the project slug in
// directory names like "ws--myrepo".
const projectMarker = "--"

// ProjectSlug derives a project slug from a directory path: the suffix
// after the last marker token in the base name, or the raw base name when
// the marker is absent. The fallback is deliberate so every entry carries
// some project value.
func ProjectSlug(dir string) string {
	base := filepath.Base(filepath.Clean(dir))
	if i := strings.LastIndex(base, projectMarker); i >= 0 {
		if suffix := base[i+len(projectMarker):]; suffix != "" {
			return suffix
		}
	}
	return base
}
