package policy

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// InitFD is the descriptor on which the init helper reads its request.
const InitFD = 3

// Rlimits are applied by the init helper before exec. Zero leaves a limit untouched.
type Rlimits struct {
	CPUSeconds    uint64 `json:"cpuSeconds,omitempty"`
	FileSizeBytes uint64 `json:"fileSizeBytes,omitempty"`
	OpenFiles     uint64 `json:"openFiles,omitempty"`
	DisableCore   bool   `json:"disableCore,omitempty"`
}

// InitRequest tells the init helper what to confine and run.
type InitRequest struct {
	Argv    []string        `json:"argv"`
	Dir     string          `json:"dir"`
	Env     []string        `json:"env,omitempty"`
	Rlimits Rlimits         `json:"rlimits"`
	Seccomp *SeccompProfile `json:"seccomp,omitempty"`
}

// EncodeInitRequest writes req as a single JSON document.
func EncodeInitRequest(w io.Writer, req InitRequest) error {
	return json.NewEncoder(w).Encode(req)
}

// DecodeInitRequest reads and validates a request.
func DecodeInitRequest(r io.Reader) (InitRequest, error) {
	var req InitRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return InitRequest{}, fmt.Errorf("decode init request: %w", err)
	}
	if len(req.Argv) == 0 || req.Argv[0] == "" {
		return InitRequest{}, fmt.Errorf("init request has no command")
	}
	if req.Dir == "" {
		return InitRequest{}, fmt.Errorf("init request has no work dir")
	}
	return req, nil
}

// jvmNoticePrefixes are stderr lines the JVM prints whenever the permission
// layer is switched on; they say nothing about the submission.
var jvmNoticePrefixes = []string{
	"WARNING: A command line option has enabled the Security Manager",
	"WARNING: The Security Manager is deprecated",
}

// StripJVMNotices drops permission-layer notices from stderr.
func StripJVMNotices(stderr string) string {
	if !strings.Contains(stderr, "Security Manager") {
		return stderr
	}
	lines := strings.SplitAfter(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		notice := false
		for _, p := range jvmNoticePrefixes {
			if strings.HasPrefix(line, p) {
				notice = true
				break
			}
		}
		if !notice {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "")
}
