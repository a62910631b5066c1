// Package workspace resolves the agent's working directory and reads
// the plain-text context files kept there (memory, user profile, the
// heartbeat note).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultWorkspaceDirName = ".agp/workspace"

const (
	memoryFileName    = "MEMORY.md"
	userFileName      = "USER.md"
	soulFileName      = "SOUL.md"
	heartbeatFileName = "HEARTBEAT.md"
	sessionsFileName  = "sessions.json"
	jobsFileName      = "jobs.json"
)

// Workspace is a resolved, existing workspace directory.
type Workspace struct {
	root string
}

// Resolve normalizes a workspace path, expanding ~ and creating the
// directory when missing. An empty path falls back to ~/.agp/workspace.
func Resolve(path string) (*Workspace, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(homeDir, defaultWorkspaceDirName)
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute workspace path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}

	return &Workspace{root: cleanPath}, nil
}

// Root returns the normalized absolute workspace root path.
func (w *Workspace) Root() string {
	return w.root
}

// HeartbeatPath is where the periodic prompt service looks for the
// sentinel note.
func (w *Workspace) HeartbeatPath() string {
	return filepath.Join(w.root, heartbeatFileName)
}

// SessionsPath is where conversation sessions are snapshotted.
func (w *Workspace) SessionsPath() string {
	return filepath.Join(w.root, sessionsFileName)
}

// JobsPath is where scheduled jobs are snapshotted.
func (w *Workspace) JobsPath() string {
	return filepath.Join(w.root, jobsFileName)
}

// MemoryContext assembles the long-term memory and user profile into a
// prompt preamble. Missing files contribute nothing; the result is
// empty when there is no context to inject.
func (w *Workspace) MemoryContext() string {
	var parts []string

	if profile := w.readFile(userFileName); strings.TrimSpace(profile) != "" {
		parts = append(parts, "## User Profile\n\n"+profile)
	}

	if memory := w.readFile(memoryFileName); strings.TrimSpace(memory) != "" {
		parts = append(parts, "## Long-term Memory\n\n"+memory)
	}

	if len(parts) == 0 {
		return ""
	}

	return strings.Join(parts, "\n\n---\n\n")
}

// Persona returns the SOUL.md contents, or empty when the workspace
// has no custom persona.
func (w *Workspace) Persona() string {
	return strings.TrimSpace(w.readFile(soulFileName))
}

func (w *Workspace) readFile(name string) string {
	content, err := os.ReadFile(filepath.Join(w.root, name))
	if err != nil {
		return ""
	}
	return string(content)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	if path == "~" {
		return homeDir, nil
	}
	return filepath.Join(homeDir, path[2:]), nil
}
