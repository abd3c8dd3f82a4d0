package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	appErr "codesandbox/pkg/errors"
)

// PolicyFileName is the JVM policy file written next to the compiled classes.
const PolicyFileName = "sandbox.policy"

// Capability is an operation class the runtime policy can deny.
type Capability string

const (
	CapNetwork Capability = "network"
	CapWrite   Capability = "write"
	CapDelete  Capability = "delete"
	CapSpawn   Capability = "spawn"
)

// AllCapabilities lists every deniable capability in a stable order.
var AllCapabilities = []Capability{CapNetwork, CapWrite, CapDelete, CapSpawn}

// RuntimePolicy describes what a running submission may not do.
type RuntimePolicy struct {
	// JVMSecurityManager enables the Java permission layer.
	// JDK 24 and later refuse to start with it.
	JVMSecurityManager bool
	// Seccomp enables the syscall filter installed by the init helper.
	Seccomp bool
	Deny    []Capability
}

// DefaultRuntimePolicy denies every capability with the JVM layer only.
func DefaultRuntimePolicy() RuntimePolicy {
	return RuntimePolicy{
		JVMSecurityManager: true,
		Deny:               append([]Capability(nil), AllCapabilities...),
	}
}

// Denies reports whether cap is denied.
func (p RuntimePolicy) Denies(c Capability) bool {
	for _, d := range p.Deny {
		if d == c {
			return true
		}
	}
	return false
}

// JavaPolicy renders the policy file. The JVM grants nothing that is not listed,
// so denied capabilities are simply absent from the grant block.
func (p RuntimePolicy) JavaPolicy() string {
	var b strings.Builder
	b.WriteString("grant {\n")
	b.WriteString("  permission java.util.PropertyPermission \"*\", \"read\";\n")
	b.WriteString("  permission java.lang.RuntimePermission \"accessDeclaredMembers\";\n")
	b.WriteString("  permission java.lang.RuntimePermission \"exitVM.*\";\n")
	fileActions := []string{"read"}
	if !p.Denies(CapWrite) {
		fileActions = append(fileActions, "write")
	}
	if !p.Denies(CapDelete) {
		fileActions = append(fileActions, "delete")
	}
	if !p.Denies(CapSpawn) {
		fileActions = append(fileActions, "execute")
	}
	fmt.Fprintf(&b, "  permission java.io.FilePermission \"<<ALL FILES>>\", %q;\n", strings.Join(fileActions, ","))
	if !p.Denies(CapNetwork) {
		b.WriteString("  permission java.net.SocketPermission \"*\", \"connect,resolve\";\n")
	}
	b.WriteString("};\n")
	return b.String()
}

// WriteJavaPolicy renders the policy file into dir and returns its path.
func (p RuntimePolicy) WriteJavaPolicy(dir string) (string, error) {
	path := filepath.Join(dir, PolicyFileName)
	if err := os.WriteFile(path, []byte(p.JavaPolicy()), 0644); err != nil {
		return "", appErr.Wrapf(err, appErr.WorkspaceError, "write policy file failed")
	}
	return path, nil
}

// JVMFlags returns the options that activate the permission layer.
// The double equals sign makes the file the only policy in effect.
func (p RuntimePolicy) JVMFlags(policyPath string) []string {
	if !p.JVMSecurityManager || policyPath == "" {
		return nil
	}
	return []string{
		"-Djava.security.manager",
		"-Djava.security.policy==" + policyPath,
	}
}
