package web

import (
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
)

// resolveRoots returns the absolute, symlink-free form of each root.
func resolveRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		out = append(out, abs)
	}
	return out
}

// confinedPath reads the path query parameter and checks that it names a file
// inside one of the roots. Paths outside the roots are reported as not found.
func (s *Server) confinedPath(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		return "", fmt.Errorf("%w: path is required", errBadRequest)
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	for _, root := range s.roots {
		if within(root, real) {
			return real, nil
		}
	}
	return "", fmt.Errorf("%w: %s is outside the harvest roots", fs.ErrNotExist, raw)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
