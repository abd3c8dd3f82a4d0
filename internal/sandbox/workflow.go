// Package sandbox judges one submission: it materializes a workspace, rejects
// forbidden source, compiles, runs every case on a backend and aggregates.
package sandbox

import (
	"context"
	"time"

	"codesandbox/internal/sandbox/engine"
	"codesandbox/internal/sandbox/observer"
	"codesandbox/internal/sandbox/policy"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/result"
	"codesandbox/internal/sandbox/workspace"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Request is one submission. It is not modified once accepted.
type Request struct {
	Code      string   `json:"code"`
	InputList []string `json:"inputList"`
	Language  string   `json:"language"`
}

// Compiler turns the workspace source into a runnable artifact.
type Compiler interface {
	Compile(ctx context.Context, lang profile.LanguageSpec, dir string) (engine.Artifact, error)
}

// Options wires a Workflow.
type Options struct {
	Workspaces   *workspace.Manager
	Scanner      *policy.Scanner
	Languages    *profile.Registry
	Compiler     Compiler
	Backend      engine.Backend
	Metrics      observer.MetricsRecorder
	MaxCodeBytes int
	MaxCases     int
}

// Workflow runs the fixed judging sequence. Only the backend varies.
// A Workflow is safe for concurrent use; each Judge call owns its workspace.
type Workflow struct {
	opts Options
}

// NewWorkflow validates the wiring.
func NewWorkflow(opts Options) (*Workflow, error) {
	if opts.Workspaces == nil || opts.Languages == nil || opts.Compiler == nil || opts.Backend == nil {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("workflow dependencies are not initialized")
	}
	if opts.Scanner == nil {
		opts.Scanner = policy.NewScanner(policy.DefaultBlacklist)
	}
	if opts.Metrics == nil {
		opts.Metrics = observer.Noop{}
	}
	return &Workflow{opts: opts}, nil
}

// Backend returns the backend name.
func (w *Workflow) Backend() string {
	return w.opts.Backend.Name()
}

// Judge always returns a response with a status; errors never escape.
func (w *Workflow) Judge(ctx context.Context, req Request) result.Response {
	ctx = logger.WithBackend(ctx, w.Backend())
	start := time.Now()
	resp := w.judge(ctx, req)
	w.opts.Metrics.ObserveVerdict(ctx, w.Backend(), resp.Status.String())
	logger.Info(ctx, "judgment finished",
		zap.String("status", resp.Status.String()),
		zap.Int("cases", len(req.InputList)),
		zap.Int("outputs", len(resp.OutputList)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp
}

func (w *Workflow) judge(ctx context.Context, req Request) result.Response {
	lang, err := w.validate(req)
	if err != nil {
		logger.Warn(ctx, "request rejected", zap.Error(err))
		return result.FromError(err)
	}

	ws, err := w.opts.Workspaces.Create(ctx, lang.SourceFile, req.Code)
	if err != nil {
		logger.Error(ctx, "create workspace failed", zap.String("stage", "workspace"), zap.Error(err))
		return result.FromError(err)
	}
	ctx = logger.WithSubmission(ctx, ws.SubmissionID)
	defer func() {
		_ = ws.Remove(ctx)
	}()

	if m, found := w.opts.Scanner.Scan(req.Code); found {
		logger.Info(ctx, "forbidden content in source", zap.String("word", m.Word), zap.Int("offset", m.Offset))
		return result.FromError(appErr.New(appErr.PolicyViolation).WithMessagef("source contains forbidden word: %s", m.Word))
	}

	artifact, err := w.opts.Compiler.Compile(ctx, lang, ws.RootDir)
	if err != nil {
		logger.Warn(ctx, "compile failed", zap.String("stage", "compile"), zap.Error(err))
		return result.FromError(err)
	}

	runner, err := w.opts.Backend.Open(ctx, artifact)
	if err != nil {
		logger.Error(ctx, "open backend failed", zap.String("stage", "open"), zap.Error(err))
		return result.FromError(err)
	}
	defer func() {
		if err := runner.Close(ctx); err != nil {
			logger.Error(ctx, "close backend failed", zap.String("stage", "close"), zap.Error(err))
		}
	}()

	agg := result.NewAggregator(len(req.InputList))
	for i, input := range req.InputList {
		res, err := runner.Run(ctx, input)
		if err != nil {
			logger.Error(ctx, "run case failed", zap.String("stage", "run"), zap.Int("case", i), zap.Error(err))
			return result.FromError(appErr.Wrap(err, sandboxCode(err)))
		}
		if !agg.Add(res) {
			logger.Info(ctx, "case failed, stopping", zap.Int("case", i), zap.Bool("timed_out", res.TimedOut))
			break
		}
	}
	return agg.Finalize()
}

func (w *Workflow) validate(req Request) (profile.LanguageSpec, error) {
	lang, err := w.opts.Languages.Lookup(req.Language)
	if err != nil {
		return profile.LanguageSpec{}, err
	}
	if req.Code == "" {
		return profile.LanguageSpec{}, appErr.ValidationError("code", "must not be empty")
	}
	if w.opts.MaxCodeBytes > 0 && len(req.Code) > w.opts.MaxCodeBytes {
		return profile.LanguageSpec{}, appErr.New(appErr.CodeTooLarge).WithMessagef("code exceeds %d bytes", w.opts.MaxCodeBytes)
	}
	if w.opts.MaxCases > 0 && len(req.InputList) > w.opts.MaxCases {
		return profile.LanguageSpec{}, appErr.ValidationError("inputList", "too many cases")
	}
	return lang, nil
}

// sandboxCode keeps coded backend errors and marks anything else as a judge failure.
func sandboxCode(err error) appErr.ErrorCode {
	code := appErr.GetCode(err)
	if code == appErr.InternalServerError || !code.SandboxFault() {
		return appErr.JudgeSystemError
	}
	return code
}
