package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codesandbox/internal/config"
	"codesandbox/internal/sandbox/engine"
	"codesandbox/internal/sandbox/policy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	if !strings.Contains(body, "auth:") {
		body += "\nauth:\n  secret: test-secret\n"
	}
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "server:\n  addr: \":9000\"\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("expected addr :9000, got %s", cfg.Server.Addr)
	}
	if cfg.Sandbox.DefaultBackend != engine.BackendNative {
		t.Fatalf("expected native default backend, got %s", cfg.Sandbox.DefaultBackend)
	}
	if len(cfg.Sandbox.Blacklist) != 2 || cfg.Sandbox.Blacklist[0] != "Files" || cfg.Sandbox.Blacklist[1] != "exec" {
		t.Fatalf("unexpected default blacklist %v", cfg.Sandbox.Blacklist)
	}
	if cfg.Language.ID != "java" || cfg.Language.SourceFile != "Main.java" {
		t.Fatalf("unexpected default language %+v", cfg.Language)
	}

	proc := cfg.ProcessEngineConfig()
	if !proc.StderrIsError {
		t.Fatalf("expected stderr to count as failure by default")
	}
	if !proc.Policy.JVMSecurityManager || proc.Policy.Seccomp {
		t.Fatalf("unexpected default policy layers %+v", proc.Policy)
	}
	for _, c := range policy.AllCapabilities {
		if !proc.Policy.Denies(c) {
			t.Fatalf("expected %s to be denied by default", c)
		}
	}
	if proc.InputMode != engine.InputModeArgs {
		t.Fatalf("expected args input mode, got %s", proc.InputMode)
	}

	ctr := cfg.ContainerEngineConfig()
	if ctr.MemoryBytes != 100<<20 {
		t.Fatalf("expected 100MiB container memory, got %d", ctr.MemoryBytes)
	}
	if ctr.NanoCPUs != 1e9 {
		t.Fatalf("expected one cpu, got %d", ctr.NanoCPUs)
	}
	if ctr.HeapMB >= 100 {
		t.Fatalf("expected heap below the memory ceiling, got %d", ctr.HeapMB)
	}
	if ctr.SampleInterval != 100*time.Millisecond {
		t.Fatalf("expected 100ms sampling, got %s", ctr.SampleInterval)
	}
}

func TestLoadExplicitFalseFlags(t *testing.T) {
	body := `
process:
  stderrIsError: false
  securityManager: false
  deny: [network]
`
	cfg, err := config.Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	proc := cfg.ProcessEngineConfig()
	if proc.StderrIsError || proc.Policy.JVMSecurityManager {
		t.Fatalf("expected explicit false values to survive defaults: %+v", proc)
	}
	if !proc.Policy.Denies(policy.CapNetwork) || proc.Policy.Denies(policy.CapWrite) {
		t.Fatalf("unexpected deny list %v", proc.Policy.Deny)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "unknown backend", body: "sandbox:\n  defaultBackend: vm\n", wantErr: "unknown default backend"},
		{name: "docker default without container", body: "sandbox:\n  defaultBackend: docker\n", wantErr: "container.enabled"},
		{name: "bad input mode", body: "process:\n  inputMode: file\n", wantErr: "inputMode"},
		{name: "heap above memory", body: "container:\n  enabled: true\n  memoryMB: 64\n  heapMB: 64\n", wantErr: "heapMB"},
		{name: "seccomp without helper", body: "process:\n  seccomp: true\n", wantErr: "helperPath"},
		{name: "unknown capability", body: "process:\n  deny: [reboot]\n", wantErr: "unknown capability"},
		{name: "missing auth secret", body: "auth:\n  header: auth\n", wantErr: "auth.secret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadAuthExplicitlyDisabled(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "auth:\n  disabled: true\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Auth.Disabled || cfg.Auth.Header != "auth" {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file failed") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "sandbox.yaml"))
	if err != nil {
		t.Fatalf("load sample config failed: %v", err)
	}
	if cfg.RateLimit.MaxConcurrent != 8 {
		t.Fatalf("expected maxConcurrent 8, got %d", cfg.RateLimit.MaxConcurrent)
	}
}
