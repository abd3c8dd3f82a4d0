// Package result defines sandbox execution results and the judgment response shape.
package result

import (
	appErr "codesandbox/pkg/errors"
)

// Status is the outcome code returned to callers.
type Status int

const (
	// StatusUnset never leaves the aggregator.
	StatusUnset           Status = 0
	StatusSuccess         Status = 1
	StatusSandboxError    Status = 2
	StatusRuntimeError    Status = 3
	StatusPolicyViolation Status = 4
)

// String returns the lowercase status name used in logs and metrics labels.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSandboxError:
		return "sandbox_error"
	case StatusRuntimeError:
		return "runtime_error"
	case StatusPolicyViolation:
		return "policy_violation"
	default:
		return "unset"
	}
}

// RunResult captures raw execution data for one case.
type RunResult struct {
	ExitCode     int
	Stdout       string
	Stderr       string
	ErrorMessage string
	TimeMs       int64
	// MemoryBytes is meaningful only when MemoryMeasured is set.
	MemoryBytes    int64
	MemoryMeasured bool
	TimedOut       bool
}

// Failed reports whether the run carries an error message.
func (r RunResult) Failed() bool {
	return r.ErrorMessage != ""
}

// JudgeInfo summarizes resource usage across all cases.
type JudgeInfo struct {
	Message string `json:"message"`
	Time    int64  `json:"time"`
	Memory  *int64 `json:"memory,omitempty"`
}

// Response is the aggregated outcome of one submission.
type Response struct {
	OutputList []string  `json:"outputList"`
	Message    string    `json:"message"`
	Status     Status    `json:"status"`
	JudgeInfo  JudgeInfo `json:"judgeInfo"`
}

// SandboxError builds a status 2 response.
func SandboxError(message string) Response {
	return Response{
		OutputList: []string{},
		Message:    message,
		Status:     StatusSandboxError,
		JudgeInfo:  JudgeInfo{Message: message},
	}
}

// PolicyViolation builds a status 4 response.
func PolicyViolation(message string) Response {
	return Response{
		OutputList: []string{},
		Message:    message,
		Status:     StatusPolicyViolation,
		JudgeInfo:  JudgeInfo{Message: message},
	}
}

// StatusFromError maps a coded error onto a response status.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	switch appErr.GetCode(err) {
	case appErr.PolicyViolation:
		return StatusPolicyViolation
	case appErr.RuntimeError, appErr.TimeLimitExceeded, appErr.MemoryLimitExceeded,
		appErr.OutputLimitExceeded, appErr.SecurityDenied:
		return StatusRuntimeError
	default:
		return StatusSandboxError
	}
}

// FromError converts an error into a response with the mapped status.
func FromError(err error) Response {
	msg := err.Error()
	resp := SandboxError(msg)
	resp.Status = StatusFromError(err)
	return resp
}
