package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codesandbox/internal/sandbox/workspace"
	pkgerrors "codesandbox/pkg/errors"
)

func TestCreateWritesSourceAndRemoves(t *testing.T) {
	root := filepath.Join(t.TempDir(), "code")
	mgr := workspace.NewManager(root)
	ctx := context.Background()

	ws, err := mgr.Create(ctx, "Main.java", "public class Main {}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Dir(ws.RootDir) != root {
		t.Fatalf("workspace %s not under %s", ws.RootDir, root)
	}
	data, err := os.ReadFile(ws.SourcePath)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if string(data) != "public class Main {}" {
		t.Fatalf("unexpected source %q", data)
	}

	if err := ws.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(ws.RootDir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed, stat err=%v", err)
	}
	if err := ws.Remove(ctx); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestCreateUniqueDirectories(t *testing.T) {
	mgr := workspace.NewManager(t.TempDir())
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ws, err := mgr.Create(context.Background(), "Main.java", "x")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[ws.RootDir] {
			t.Fatalf("duplicate workspace %s", ws.RootDir)
		}
		seen[ws.RootDir] = true
	}
}

func TestWriteSourceRejectsPathNames(t *testing.T) {
	mgr := workspace.NewManager(t.TempDir())
	_, err := mgr.Create(context.Background(), "../Main.java", "x")
	if err == nil {
		t.Fatalf("expected error for path-like source name")
	}
	if !pkgerrors.Is(err, pkgerrors.WorkspaceError) {
		t.Fatalf("expected WorkspaceError, got %v", err)
	}
	entries, _ := os.ReadDir(mgr.Root())
	if len(entries) != 0 {
		t.Fatalf("expected failed workspace cleaned up, found %d entries", len(entries))
	}
}
