// Package bootstrap assembles judging workflows from the app config.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"codesandbox/internal/config"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/engine"
	"codesandbox/internal/sandbox/observer"
	"codesandbox/internal/sandbox/policy"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/workspace"
	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Sandboxes holds one workflow per enabled backend.
type Sandboxes struct {
	Default   string
	Workflows map[string]*sandbox.Workflow

	docker *engine.DockerClient
}

// Get returns the workflow for backend.
func (s *Sandboxes) Get(backend string) (*sandbox.Workflow, bool) {
	w, ok := s.Workflows[backend]
	return w, ok
}

// Close releases the container engine connection.
func (s *Sandboxes) Close() error {
	if s.docker != nil {
		return s.docker.Close()
	}
	return nil
}

// Build wires every enabled backend. The container backend needs a reachable
// engine; its image is pulled up front when container.pullOnStart is set.
func Build(ctx context.Context, cfg *config.AppConfig, metrics observer.MetricsRecorder) (*Sandboxes, error) {
	if metrics == nil {
		metrics = observer.Noop{}
	}
	root, err := filepath.Abs(cfg.Sandbox.WorkRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve work root failed: %w", err)
	}

	workspaces := workspace.NewManager(root)
	scanner := policy.NewScanner(cfg.Sandbox.Blacklist)
	languages := profile.NewRegistry(cfg.Language)
	runner := engine.NewProcessRunner(cfg.Sandbox.MaxOutputBytes, cfg.Process.HelperPath)
	compiler := engine.NewCompiler(runner, cfg.Sandbox.CompileTimeout, metrics)

	newWorkflow := func(backend engine.Backend) (*sandbox.Workflow, error) {
		return sandbox.NewWorkflow(sandbox.Options{
			Workspaces:   workspaces,
			Scanner:      scanner,
			Languages:    languages,
			Compiler:     compiler,
			Backend:      backend,
			Metrics:      metrics,
			MaxCodeBytes: cfg.Sandbox.MaxCodeBytes,
			MaxCases:     cfg.Sandbox.MaxCases,
		})
	}

	s := &Sandboxes{Default: cfg.Sandbox.DefaultBackend, Workflows: make(map[string]*sandbox.Workflow)}

	native, err := newWorkflow(engine.NewProcessBackend(cfg.ProcessEngineConfig(), runner, metrics))
	if err != nil {
		return nil, err
	}
	s.Workflows[engine.BackendNative] = native

	if cfg.Container.Enabled {
		client, err := engine.NewDockerClient(cfg.Container.Host)
		if err != nil {
			return nil, err
		}
		s.docker = client
		images := engine.NewImageRegistry(client)
		if cfg.Container.PullOnStart {
			if err := images.Warmup(ctx, cfg.Container.Image); err != nil {
				// Sessions retry the pull, so a cold start is not fatal.
				logger.Warn(ctx, "image warmup failed", zap.String("image", cfg.Container.Image), zap.Error(err))
			}
		}
		docker, err := newWorkflow(engine.NewContainerBackend(cfg.ContainerEngineConfig(), client, images, metrics))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		s.Workflows[engine.BackendDocker] = docker
	}

	if _, ok := s.Workflows[s.Default]; !ok {
		_ = s.Close()
		return nil, fmt.Errorf("default backend %q is not enabled", s.Default)
	}
	logger.Info(ctx, "sandbox backends ready",
		zap.String("default", s.Default),
		zap.String("work_root", root),
		zap.Bool("docker", cfg.Container.Enabled),
	)
	return s, nil
}
