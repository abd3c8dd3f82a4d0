package engine

import (
	"context"
	"time"

	"codesandbox/internal/sandbox/observer"
	"codesandbox/internal/sandbox/policy"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/result"
	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// ProcessConfig controls the host process backend.
type ProcessConfig struct {
	TimeLimit     time.Duration
	HeapMB        int64
	InputMode     string
	StderrIsError bool
	Policy        policy.RuntimePolicy
	Rlimits       policy.Rlimits
}

// ProcessBackend runs each case as a host process under the runtime policy.
type ProcessBackend struct {
	cfg     ProcessConfig
	runner  *ProcessRunner
	metrics observer.MetricsRecorder
}

// NewProcessBackend creates the host process backend.
func NewProcessBackend(cfg ProcessConfig, runner *ProcessRunner, metrics observer.MetricsRecorder) *ProcessBackend {
	if metrics == nil {
		metrics = observer.Noop{}
	}
	return &ProcessBackend{cfg: cfg, runner: runner, metrics: metrics}
}

func (b *ProcessBackend) Name() string { return BackendNative }

// Open renders the policy file into the artifact directory.
func (b *ProcessBackend) Open(ctx context.Context, artifact Artifact) (CaseRunner, error) {
	s := &processSession{backend: b, artifact: artifact}
	if b.cfg.Policy.JVMSecurityManager {
		path, err := b.cfg.Policy.WriteJavaPolicy(artifact.Dir)
		if err != nil {
			return nil, err
		}
		s.jvmFlags = b.cfg.Policy.JVMFlags(path)
	}
	if b.cfg.Policy.Seccomp {
		prof := b.cfg.Policy.SeccompProfile()
		s.init = &policy.InitRequest{Rlimits: b.cfg.Rlimits, Seccomp: &prof}
	}
	return s, nil
}

type processSession struct {
	backend  *ProcessBackend
	artifact Artifact
	jvmFlags []string
	init     *policy.InitRequest
}

func (s *processSession) Run(ctx context.Context, input string) (result.RunResult, error) {
	cfg := s.backend.cfg
	argv, err := profile.BuildCommand(s.artifact.Language.RunCmdTpl, profile.Vars{
		Dir:      s.artifact.Dir,
		Main:     s.artifact.Language.MainClass,
		HeapMB:   cfg.HeapMB,
		JVMFlags: s.jvmFlags,
	})
	if err != nil {
		return result.RunResult{}, err
	}
	c := Command{Dir: s.artifact.Dir, TimeLimit: cfg.TimeLimit, Init: s.init}
	if cfg.InputMode == InputModeStdin {
		c.Argv = argv
		c.Stdin = profile.CaseStdin(input)
	} else {
		c.Argv = append(argv, profile.CaseArgs(input)...)
	}

	res, err := s.backend.runner.Run(ctx, c)
	if err != nil {
		return res, err
	}
	if cfg.Policy.JVMSecurityManager {
		res.Stderr = policy.StripJVMNotices(res.Stderr)
	}
	classify(&res, cfg.StderrIsError)
	s.backend.metrics.ObserveRun(ctx, BackendNative, res.Failed(), res.TimeMs, 0, false)
	if res.Failed() {
		logger.Debug(ctx, "case failed", zap.Int("exit_code", res.ExitCode), zap.Bool("timed_out", res.TimedOut))
	}
	return res, nil
}

// Close is a no-op; the policy file goes away with the workspace.
func (s *processSession) Close(ctx context.Context) error {
	return nil
}
