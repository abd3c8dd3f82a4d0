// Package profile defines the supported language toolchain and its command templates.
package profile

import (
	"strconv"
	"strings"

	appErr "codesandbox/pkg/errors"

	"github.com/google/shlex"
)

// TaskType identifies the sandbox task category.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
)

// LanguageSpec defines how to compile and run a language.
type LanguageSpec struct {
	ID            string `yaml:"id"`
	SourceFile    string `yaml:"sourceFile"`
	MainClass     string `yaml:"mainClass"`
	CompileCmdTpl string `yaml:"compileCmd"`
	RunCmdTpl     string `yaml:"runCmd"`
}

// Java is the only language the sandbox runs.
func Java() LanguageSpec {
	return LanguageSpec{
		ID:            "java",
		SourceFile:    "Main.java",
		MainClass:     "Main",
		CompileCmdTpl: "javac -encoding UTF-8 {src}",
		RunCmdTpl:     "java -Xmx{heapMB}m -XX:-UsePerfData -Dfile.encoding=UTF-8 {jvmFlags} -cp {dir} {main}",
	}
}

// Registry resolves language tags.
type Registry struct {
	langs map[string]LanguageSpec
}

// NewRegistry indexes specs by lowercase id.
func NewRegistry(specs ...LanguageSpec) *Registry {
	r := &Registry{langs: make(map[string]LanguageSpec, len(specs))}
	for _, s := range specs {
		r.langs[strings.ToLower(s.ID)] = s
	}
	return r
}

// Lookup returns the spec for tag or LanguageNotSupported.
func (r *Registry) Lookup(tag string) (LanguageSpec, error) {
	spec, ok := r.langs[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return LanguageSpec{}, appErr.New(appErr.LanguageNotSupported).WithMessagef("language %q is not supported", tag)
	}
	return spec, nil
}

// Vars holds the values substituted into command templates.
type Vars struct {
	Src      string
	Dir      string
	Main     string
	HeapMB   int64
	JVMFlags []string
}

// BuildCommand splits tpl with shell rules, then substitutes placeholders per token.
// {jvmFlags} must stand alone and expands to zero or more arguments.
func BuildCommand(tpl string, vars Vars) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	replacer := strings.NewReplacer(
		"{src}", vars.Src,
		"{dir}", vars.Dir,
		"{main}", vars.Main,
		"{heapMB}", strconv.FormatInt(vars.HeapMB, 10),
	)
	argv := make([]string, 0, len(fields)+len(vars.JVMFlags))
	for _, f := range fields {
		if f == "{jvmFlags}" {
			argv = append(argv, vars.JVMFlags...)
			continue
		}
		argv = append(argv, replacer.Replace(f))
	}
	if len(argv) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return argv, nil
}

// CaseArgs splits one case input into program arguments.
func CaseArgs(input string) []string {
	return strings.Fields(input)
}

// CaseStdin renders one case input for interactive programs: one token per line.
func CaseStdin(input string) string {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, "\n") + "\n"
}
