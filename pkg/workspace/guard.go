package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace marks a path that resolves outside the workspace
// root after cleaning.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// ResolveInside validates a workspace-relative path and returns its
// canonical absolute form. Absolute input is accepted only when it
// already lies inside the workspace; relative input must not climb out
// with "..".
func (w *Workspace) ResolveInside(inputPath string) (string, error) {
	trimmed := strings.TrimSpace(inputPath)
	if trimmed == "" {
		return "", errors.New("path must not be empty")
	}

	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(w.root, candidate)
	}

	absPath, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", inputPath, err)
	}

	cleanPath := filepath.Clean(absPath)
	if !isWithin(w.root, cleanPath) {
		return "", fmt.Errorf("%q: %w", inputPath, ErrOutsideWorkspace)
	}

	return cleanPath, nil
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
