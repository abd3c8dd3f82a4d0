// Package engine runs compiled submissions. A Backend opens one CaseRunner per
// judgment session; the runner executes cases one at a time.
package engine

import (
	"context"
	"strings"

	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/result"
)

// Backend names.
const (
	BackendNative = "native"
	BackendDocker = "docker"
)

// Input modes for case text.
const (
	InputModeArgs  = "args"
	InputModeStdin = "stdin"
)

// Artifact is the compiled program inside a workspace. It is never mutated.
type Artifact struct {
	Dir      string
	Language profile.LanguageSpec
}

// Backend prepares an execution environment for one session.
type Backend interface {
	Name() string
	Open(ctx context.Context, artifact Artifact) (CaseRunner, error)
}

// CaseRunner executes cases sequentially against one artifact.
// An error means the sandbox failed; a failing submission is reported in the RunResult.
type CaseRunner interface {
	Run(ctx context.Context, input string) (result.RunResult, error)
	Close(ctx context.Context) error
}

// classify fills ErrorMessage for a finished run.
// A run fails on timeout, non-zero exit, or stderr output when stderrIsError is set.
func classify(res *result.RunResult, stderrIsError bool) {
	switch {
	case res.TimedOut:
		if res.ErrorMessage == "" {
			res.ErrorMessage = "time limit exceeded"
		}
	case res.ExitCode != 0:
		if msg := strings.TrimSpace(res.Stderr); msg != "" {
			res.ErrorMessage = msg
		} else {
			res.ErrorMessage = "process exited with code " + itoa(res.ExitCode)
		}
	case stderrIsError && strings.TrimSpace(res.Stderr) != "":
		res.ErrorMessage = strings.TrimSpace(res.Stderr)
	}
}
