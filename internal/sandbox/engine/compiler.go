package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"codesandbox/internal/sandbox/observer"
	"codesandbox/internal/sandbox/profile"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Compiler runs the host toolchain once per session.
type Compiler struct {
	runner    *ProcessRunner
	timeLimit time.Duration
	metrics   observer.MetricsRecorder
}

// NewCompiler returns a compiler bounded by timeLimit.
func NewCompiler(runner *ProcessRunner, timeLimit time.Duration, metrics observer.MetricsRecorder) *Compiler {
	if metrics == nil {
		metrics = observer.Noop{}
	}
	return &Compiler{runner: runner, timeLimit: timeLimit, metrics: metrics}
}

// Compile builds the source in dir. Output is captured like a case run; any
// non-zero exit ends the session with the compiler log as the message.
func (c *Compiler) Compile(ctx context.Context, lang profile.LanguageSpec, dir string) (Artifact, error) {
	argv, err := profile.BuildCommand(lang.CompileCmdTpl, profile.Vars{
		Src:  filepath.Join(dir, lang.SourceFile),
		Dir:  dir,
		Main: lang.MainClass,
	})
	if err != nil {
		return Artifact{}, err
	}

	res, err := c.runner.Run(ctx, Command{Argv: argv, Dir: dir, TimeLimit: c.timeLimit})
	if err != nil {
		c.metrics.ObserveCompile(ctx, lang.ID, false, res.TimeMs)
		return Artifact{}, appErr.Wrapf(err, appErr.CompilationError, "run compiler failed")
	}
	ok := !res.TimedOut && res.ExitCode == 0
	c.metrics.ObserveCompile(ctx, lang.ID, ok, res.TimeMs)
	if !ok {
		log := strings.TrimSpace(res.Stderr)
		if log == "" {
			log = strings.TrimSpace(res.Stdout)
		}
		if res.TimedOut {
			log = "compilation timed out"
		}
		logger.Info(ctx, "compilation failed", zap.Int("exit_code", res.ExitCode), zap.Int64("time_ms", res.TimeMs))
		return Artifact{}, appErr.New(appErr.CompilationError).
			WithMessagef("compilation failed: %s", log).
			WithDetail("exit_code", res.ExitCode)
	}
	logger.Debug(ctx, "compilation finished", zap.Int64("time_ms", res.TimeMs))
	return Artifact{Dir: dir, Language: lang}, nil
}
