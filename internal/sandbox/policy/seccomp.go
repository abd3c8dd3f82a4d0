package policy

import "golang.org/x/sys/unix"

// ArgOp is a comparison applied to one syscall argument.
type ArgOp string

const (
	// ArgMaskedEqual matches when arg&Mask == Value.
	ArgMaskedEqual ArgOp = "masked_eq"
)

// cloneVFork is CLONE_VFORK from linux/sched.h.
const cloneVFork = 0x4000

// ArgCondition restricts a rule to calls whose argument matches.
type ArgCondition struct {
	Index uint
	Op    ArgOp
	Value uint64
	Mask  uint64
}

// SyscallRule makes a syscall fail with Errno instead of running.
// Rules sharing a name are alternatives; conditions within a rule all apply.
type SyscallRule struct {
	Name  string
	Errno int
	Args  []ArgCondition
}

// SeccompProfile is the filter handed to the init helper.
type SeccompProfile struct {
	Rules []SyscallRule
}

func writeFlagRules(name string, flagsArg uint) []SyscallRule {
	rules := make([]SyscallRule, 0, 4)
	for _, flag := range []uint64{unix.O_WRONLY, unix.O_RDWR, unix.O_CREAT, unix.O_TRUNC} {
		rules = append(rules, SyscallRule{
			Name:  name,
			Errno: int(unix.EPERM),
			Args:  []ArgCondition{{Index: flagsArg, Op: ArgMaskedEqual, Value: flag, Mask: flag}},
		})
	}
	return rules
}

func denyAll(errno unix.Errno, names ...string) []SyscallRule {
	rules := make([]SyscallRule, 0, len(names))
	for _, name := range names {
		rules = append(rules, SyscallRule{Name: name, Errno: int(errno)})
	}
	return rules
}

// SeccompProfile returns the syscall rules for the denied capabilities.
// Denied calls fail with an errno so the JVM raises a catchable exception.
// Names the running architecture does not know are skipped by the helper.
func (p RuntimePolicy) SeccompProfile() SeccompProfile {
	var rules []SyscallRule
	if p.Denies(CapNetwork) {
		rules = append(rules, denyAll(unix.EPERM, "connect", "bind", "listen")...)
	}
	if p.Denies(CapDelete) {
		rules = append(rules, denyAll(unix.EPERM, "unlink", "unlinkat", "rmdir", "rename", "renameat", "renameat2")...)
	}
	if p.Denies(CapWrite) {
		rules = append(rules, writeFlagRules("open", 1)...)
		rules = append(rules, writeFlagRules("openat", 2)...)
		rules = append(rules, denyAll(unix.EPERM, "creat", "truncate")...)
	}
	if p.Denies(CapSpawn) {
		rules = append(rules, denyAll(unix.EPERM, "fork", "vfork")...)
		rules = append(rules, SyscallRule{
			Name:  "clone",
			Errno: int(unix.EPERM),
			Args:  []ArgCondition{{Index: 0, Op: ArgMaskedEqual, Value: cloneVFork, Mask: cloneVFork}},
		})
		// glibc falls back to clone when clone3 is unavailable, which keeps thread creation working.
		rules = append(rules, denyAll(unix.ENOSYS, "clone3")...)
	}
	return SeccompProfile{Rules: rules}
}
