package bootstrap_test

import (
	"context"
	"path/filepath"
	"testing"

	"codesandbox/internal/bootstrap"
	"codesandbox/internal/config"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/engine"
	"codesandbox/internal/sandbox/result"
)

func TestBuildNativeOnly(t *testing.T) {
	cfg := config.Default()
	cfg.Sandbox.WorkRoot = filepath.Join(t.TempDir(), "work")

	s, err := bootstrap.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer s.Close()

	if _, ok := s.Get(engine.BackendNative); !ok {
		t.Fatalf("expected native workflow")
	}
	if _, ok := s.Get(engine.BackendDocker); ok {
		t.Fatalf("expected docker workflow to be disabled")
	}
	if s.Default != engine.BackendNative {
		t.Fatalf("expected native default, got %s", s.Default)
	}
}

func TestBuildRejectsMissingDefault(t *testing.T) {
	cfg := config.Default()
	cfg.Sandbox.WorkRoot = t.TempDir()
	cfg.Sandbox.DefaultBackend = engine.BackendDocker

	if _, err := bootstrap.Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for disabled default backend")
	}
}

func TestBuiltWorkflowRejectsForbiddenSource(t *testing.T) {
	cfg := config.Default()
	cfg.Sandbox.WorkRoot = t.TempDir()
	cfg.Sandbox.Blacklist = []string{"Runtime"}

	s, err := bootstrap.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer s.Close()
	w, _ := s.Get(engine.BackendNative)

	resp := w.Judge(context.Background(), sandbox.Request{
		Code:     "public class Main { void f() { Runtime.getRuntime(); } }",
		Language: "java",
	})
	if resp.Status != result.StatusPolicyViolation {
		t.Fatalf("expected policy violation, got %v (%s)", resp.Status, resp.Message)
	}
}
