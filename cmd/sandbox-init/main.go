//go:build linux

// Command sandbox-init confines itself and then execs the submission.
// It reads one policy.InitRequest from descriptor 3, applies resource limits
// and the seccomp filter, and replaces itself with the requested command so
// the runner's process group and pipes stay attached.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"codesandbox/internal/sandbox/policy"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "sandbox-init: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	reqFile := os.NewFile(uintptr(policy.InitFD), "init-request")
	if reqFile == nil {
		return fmt.Errorf("init request descriptor is not open")
	}
	req, err := policy.DecodeInitRequest(reqFile)
	_ = reqFile.Close()
	if err != nil {
		return err
	}

	if err := os.Chdir(req.Dir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.Rlimits); err != nil {
		return err
	}

	env := req.Env
	if len(env) == 0 {
		env = os.Environ()
	}
	// Resolve before the filter is loaded; lookups may open files.
	cmdPath, err := exec.LookPath(req.Argv[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}

	if req.Seccomp != nil && len(req.Seccomp.Rules) > 0 {
		if err := applySeccomp(*req.Seccomp); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, req.Argv, env)
}

func applyRlimits(limits policy.Rlimits) error {
	set := func(resource int, name string, value uint64) error {
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", name, err)
		}
		return nil
	}
	if limits.CPUSeconds > 0 {
		if err := set(unix.RLIMIT_CPU, "cpu", limits.CPUSeconds); err != nil {
			return err
		}
	}
	if limits.FileSizeBytes > 0 {
		if err := set(unix.RLIMIT_FSIZE, "fsize", limits.FileSizeBytes); err != nil {
			return err
		}
	}
	if limits.OpenFiles > 0 {
		if err := set(unix.RLIMIT_NOFILE, "nofile", limits.OpenFiles); err != nil {
			return err
		}
	}
	if limits.DisableCore {
		if err := set(unix.RLIMIT_CORE, "core", 0); err != nil {
			return err
		}
	}
	return nil
}

func applySeccomp(profile policy.SeccompProfile) error {
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()

	for _, rule := range profile.Rules {
		call, err := seccomp.GetSyscallFromName(rule.Name)
		if err != nil {
			// Not present on this architecture.
			continue
		}
		action := seccomp.ActErrno.SetReturnCode(int16(rule.Errno))
		if len(rule.Args) == 0 {
			if err := filter.AddRule(call, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", rule.Name, err)
			}
			continue
		}
		conds := make([]seccomp.ScmpCondition, 0, len(rule.Args))
		for _, arg := range rule.Args {
			cond, err := makeCondition(arg)
			if err != nil {
				return fmt.Errorf("seccomp rule %s: %w", rule.Name, err)
			}
			conds = append(conds, cond)
		}
		if err := filter.AddRuleConditional(call, action, conds); err != nil {
			return fmt.Errorf("add seccomp rule %s: %w", rule.Name, err)
		}
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func makeCondition(arg policy.ArgCondition) (seccomp.ScmpCondition, error) {
	switch arg.Op {
	case policy.ArgMaskedEqual:
		return seccomp.MakeCondition(arg.Index, seccomp.CompareMaskedEqual, arg.Mask, arg.Value)
	default:
		return seccomp.ScmpCondition{}, fmt.Errorf("unsupported argument op %q", arg.Op)
	}
}
