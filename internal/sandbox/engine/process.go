package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"codesandbox/internal/sandbox/policy"
	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// waitDelay bounds how long output is drained after the child is gone.
const waitDelay = 2 * time.Second

// Command is one child process invocation.
type Command struct {
	Argv      []string
	Dir       string
	Env       []string
	Stdin     string
	TimeLimit time.Duration
	// Init, when set, launches the child through the init helper.
	Init *policy.InitRequest
}

// ProcessRunner runs host processes under a wall-clock watchdog.
type ProcessRunner struct {
	maxOutputBytes int64
	helperPath     string
}

// NewProcessRunner creates a runner. helperPath may be empty when no command uses Init.
func NewProcessRunner(maxOutputBytes int64, helperPath string) *ProcessRunner {
	return &ProcessRunner{maxOutputBytes: maxOutputBytes, helperPath: helperPath}
}

// Run starts the command and waits for it to finish or be killed.
// Output written before a kill is kept. The returned error is set only when the
// process could not be started or the caller cancelled ctx.
func (r *ProcessRunner) Run(ctx context.Context, c Command) (result.RunResult, error) {
	if len(c.Argv) == 0 {
		return result.RunResult{}, appErr.New(appErr.InvalidParams).WithMessage("command is required")
	}

	if c.Init != nil {
		req := *c.Init
		req.Argv = c.Argv
		req.Dir = c.Dir
		req.Env = c.Env
		c.Init = &req
	}
	cmd, initPipe, err := r.buildCmd(c)
	if err != nil {
		return result.RunResult{}, err
	}
	stdout := newLimitedBuffer(r.maxOutputBytes)
	stderr := newLimitedBuffer(r.maxOutputBytes)
	capture, err := newPipeCapture(stdout, stderr)
	if err != nil {
		if initPipe != nil {
			_ = initPipe.Close()
			_ = cmd.ExtraFiles[0].Close()
		}
		return result.RunResult{}, appErr.Wrapf(err, appErr.ProcessStartFailed, "create output pipes failed")
	}
	cmd.Stdout = capture.writer(0)
	cmd.Stderr = capture.writer(1)
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		capture.close()
		if initPipe != nil {
			_ = initPipe.Close()
			_ = cmd.ExtraFiles[0].Close()
		}
		return result.RunResult{}, appErr.Wrapf(err, appErr.ProcessStartFailed, "start %s failed", c.Argv[0])
	}
	capture.start()
	if initPipe != nil {
		// The child holds its own copy of the read end.
		_ = cmd.ExtraFiles[0].Close()
		err := policy.EncodeInitRequest(initPipe, *c.Init)
		_ = initPipe.Close()
		if err != nil {
			killTree(cmd)
			_ = cmd.Wait()
			capture.wait(waitDelay)
			return result.RunResult{}, appErr.Wrapf(err, appErr.ProcessStartFailed, "send init request failed")
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var deadline <-chan time.Time
		if c.TimeLimit > 0 {
			timer := time.NewTimer(c.TimeLimit)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-done:
		case <-deadline:
			timedOut.Store(true)
			killTree(cmd)
		case <-ctx.Done():
			killTree(cmd)
		}
	}()

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	close(done)
	// Nothing the program started may outlive it.
	killTree(cmd)
	if !capture.wait(waitDelay) {
		logger.Warn(ctx, "process output not drained", zap.String("cmd", c.Argv[0]))
	}

	res := result.RunResult{
		ExitCode: exitCode(waitErr, cmd.ProcessState),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimeMs:   elapsed.Milliseconds(),
	}
	if stdout.truncated || stderr.truncated {
		logger.Warn(ctx, "process output truncated", zap.String("cmd", c.Argv[0]), zap.Int64("max_bytes", r.maxOutputBytes))
	}
	if timedOut.Load() {
		res.TimedOut = true
		res.ErrorMessage = fmt.Sprintf("time limit exceeded after %dms", c.TimeLimit.Milliseconds())
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, appErr.Wrapf(err, appErr.Timeout, "run cancelled")
	}
	return res, nil
}

func (r *ProcessRunner) buildCmd(c Command) (*exec.Cmd, *os.File, error) {
	if c.Init == nil {
		cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
		r.prepare(cmd, c)
		return cmd, nil, nil
	}
	if r.helperPath == "" {
		return nil, nil, appErr.New(appErr.JudgeSystemError).WithMessage("init helper path is not configured")
	}
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.ProcessStartFailed, "create init pipe failed")
	}
	cmd := exec.Command(r.helperPath)
	r.prepare(cmd, c)
	cmd.ExtraFiles = []*os.File{readEnd}
	return cmd, writeEnd, nil
}

func (r *ProcessRunner) prepare(cmd *exec.Cmd, c Command) {
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	configureProcAttr(cmd)
}

func exitCode(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
