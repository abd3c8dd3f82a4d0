// Package workspace manages the per-submission directory on the host.
package workspace

import (
	"context"
	"os"
	"path/filepath"

	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Workspace owns one submission's directory exclusively.
type Workspace struct {
	RootDir      string
	SubmissionID string
	SourcePath   string
}

// Manager creates workspaces under a shared root.
type Manager struct {
	root string
}

// NewManager returns a manager rooted at root.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the parent directory of all workspaces.
func (m *Manager) Root() string {
	return m.root
}

// Create makes a fresh directory named by a random UUID and writes the source file into it.
func (m *Manager) Create(ctx context.Context, sourceFile, code string) (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace root failed")
	}
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	// Mkdir fails on an existing path so two sessions never share a directory.
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace failed")
	}
	ws := &Workspace{RootDir: dir, SubmissionID: id}
	if err := ws.WriteSource(sourceFile, code); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	logger.Debug(ctx, "workspace created", zap.String("dir", dir))
	return ws, nil
}

// WriteSource writes the submitted code to name inside the workspace.
func (w *Workspace) WriteSource(name, code string) error {
	if name == "" || filepath.Base(name) != name {
		return appErr.New(appErr.WorkspaceError).WithMessagef("invalid source file name %q", name)
	}
	path := filepath.Join(w.RootDir, name)
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "write source failed")
	}
	w.SourcePath = path
	return nil
}

// Remove deletes the workspace recursively. Removing twice is not an error.
func (w *Workspace) Remove(ctx context.Context) error {
	if w == nil || w.RootDir == "" {
		return nil
	}
	if err := os.RemoveAll(w.RootDir); err != nil {
		logger.Error(ctx, "remove workspace failed", zap.String("dir", w.RootDir), zap.Error(err))
		return appErr.Wrapf(err, appErr.WorkspaceError, "remove workspace failed")
	}
	return nil
}
