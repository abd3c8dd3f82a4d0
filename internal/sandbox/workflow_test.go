package sandbox_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/engine"
	"codesandbox/internal/sandbox/policy"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/result"
	"codesandbox/internal/sandbox/workspace"
	pkgerrors "codesandbox/pkg/errors"
)

const sumProgram = `public class Main { public static void main(String[] a){System.out.println(Integer.parseInt(a[0])+Integer.parseInt(a[1]));} }`

type fakeCompiler struct {
	mu    sync.Mutex
	calls int
	err   error
	dirs  []string
}

func (f *fakeCompiler) Compile(ctx context.Context, lang profile.LanguageSpec, dir string) (engine.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return engine.Artifact{}, f.err
	}
	if _, err := os.Stat(dir + "/" + lang.SourceFile); err != nil {
		return engine.Artifact{}, err
	}
	return engine.Artifact{Dir: dir, Language: lang}, nil
}

// fakeRunner adds the two integers of each case, or replays scripted results.
type fakeRunner struct {
	backend *fakeBackend
	inputs  []string
	closed  bool
}

func (r *fakeRunner) Run(ctx context.Context, input string) (result.RunResult, error) {
	r.inputs = append(r.inputs, input)
	idx := len(r.inputs) - 1
	if idx < len(r.backend.scripted) {
		s := r.backend.scripted[idx]
		return s.res, s.err
	}
	fields := strings.Fields(input)
	a, _ := strconv.Atoi(fields[0])
	b, _ := strconv.Atoi(fields[1])
	return result.RunResult{Stdout: strconv.Itoa(a+b) + "\n", TimeMs: int64(10 * (idx + 1))}, nil
}

func (r *fakeRunner) Close(ctx context.Context) error {
	r.closed = true
	return nil
}

type scripted struct {
	res result.RunResult
	err error
}

type fakeBackend struct {
	openErr  error
	scripted []scripted
	runners  []*fakeRunner
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(ctx context.Context, artifact engine.Artifact) (engine.CaseRunner, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	r := &fakeRunner{backend: b}
	b.runners = append(b.runners, r)
	return r, nil
}

func newWorkflow(t *testing.T, compiler *fakeCompiler, backend *fakeBackend) (*sandbox.Workflow, string) {
	t.Helper()
	root := t.TempDir()
	wf, err := sandbox.NewWorkflow(sandbox.Options{
		Workspaces: workspace.NewManager(root),
		Scanner:    policy.NewScanner(policy.DefaultBlacklist),
		Languages:  profile.NewRegistry(profile.Java()),
		Compiler:   compiler,
		Backend:    backend,
	})
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	return wf, root
}

func assertNoWorkspace(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no workspace left, found %d", len(entries))
	}
}

func TestJudgeSuccess(t *testing.T) {
	compiler := &fakeCompiler{}
	backend := &fakeBackend{}
	wf, root := newWorkflow(t, compiler, backend)

	resp := wf.Judge(context.Background(), sandbox.Request{Code: sumProgram, InputList: []string{"1 2", "3 4"}, Language: "java"})
	if resp.Status != result.StatusSuccess {
		t.Fatalf("expected success, got %+v", resp)
	}
	if strings.Join(resp.OutputList, ",") != "3,7" {
		t.Fatalf("unexpected outputs %v", resp.OutputList)
	}
	if resp.JudgeInfo.Time != 20 {
		t.Fatalf("expected max time 20, got %d", resp.JudgeInfo.Time)
	}
	if !backend.runners[0].closed {
		t.Fatalf("expected runner closed")
	}
	assertNoWorkspace(t, root)
}

func TestJudgeIsRepeatable(t *testing.T) {
	wf, root := newWorkflow(t, &fakeCompiler{}, &fakeBackend{})
	req := sandbox.Request{Code: sumProgram, InputList: []string{"5 6"}, Language: "java"}
	first := wf.Judge(context.Background(), req)
	second := wf.Judge(context.Background(), req)
	if first.Status != second.Status || strings.Join(first.OutputList, ",") != strings.Join(second.OutputList, ",") {
		t.Fatalf("judgments differ: %+v vs %+v", first, second)
	}
	assertNoWorkspace(t, root)
}

func TestJudgePolicyViolation(t *testing.T) {
	compiler := &fakeCompiler{}
	backend := &fakeBackend{}
	wf, root := newWorkflow(t, compiler, backend)

	code := `import java.nio.file.*; public class Main { public static void main(String[] a) throws Exception { Files.delete(Paths.get("/etc/passwd")); } }`
	resp := wf.Judge(context.Background(), sandbox.Request{Code: code, InputList: []string{"1 2"}, Language: "java"})
	if resp.Status != result.StatusPolicyViolation {
		t.Fatalf("expected policy violation, got %+v", resp)
	}
	if len(resp.OutputList) != 0 {
		t.Fatalf("expected empty outputs, got %v", resp.OutputList)
	}
	if !strings.Contains(resp.Message, "Files") {
		t.Fatalf("expected forbidden word in message, got %q", resp.Message)
	}
	if compiler.calls != 0 || len(backend.runners) != 0 {
		t.Fatalf("no compile or execution expected")
	}
	assertNoWorkspace(t, root)
}

func TestJudgeTimeoutStopsCases(t *testing.T) {
	backend := &fakeBackend{scripted: []scripted{
		{res: result.RunResult{Stdout: "3\n", TimeMs: 5}},
		{res: result.RunResult{TimedOut: true, ExitCode: -1, ErrorMessage: "time limit exceeded after 3000ms", TimeMs: 3000}},
	}}
	wf, root := newWorkflow(t, &fakeCompiler{}, backend)

	resp := wf.Judge(context.Background(), sandbox.Request{Code: sumProgram, InputList: []string{"1 2", "9 9", "4 4"}, Language: "java"})
	if resp.Status != result.StatusRuntimeError {
		t.Fatalf("expected runtime error, got %+v", resp)
	}
	if !strings.Contains(resp.Message, "time limit exceeded") {
		t.Fatalf("expected timeout message, got %q", resp.Message)
	}
	if len(resp.OutputList) != 1 {
		t.Fatalf("expected one output before the timeout, got %v", resp.OutputList)
	}
	if got := len(backend.runners[0].inputs); got != 2 {
		t.Fatalf("expected the third case to be skipped, ran %d", got)
	}
	assertNoWorkspace(t, root)
}

func TestJudgeCompileFailure(t *testing.T) {
	compiler := &fakeCompiler{err: pkgerrors.New(pkgerrors.CompilationError).WithMessage("compilation failed: ';' expected")}
	backend := &fakeBackend{}
	wf, root := newWorkflow(t, compiler, backend)

	resp := wf.Judge(context.Background(), sandbox.Request{Code: "public class Main {", InputList: []string{"1 2"}, Language: "java"})
	if resp.Status != result.StatusSandboxError {
		t.Fatalf("expected sandbox error, got %+v", resp)
	}
	if len(resp.OutputList) != 0 || len(backend.runners) != 0 {
		t.Fatalf("no cases must run after a compile failure")
	}
	assertNoWorkspace(t, root)
}

func TestJudgeInfrastructureErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		lang    string
	}{
		{"unsupported language", &fakeBackend{}, "python"},
		{"backend open fails", &fakeBackend{openErr: pkgerrors.New(pkgerrors.ImagePullFailed)}, "java"},
		{"case run fails", &fakeBackend{scripted: []scripted{{err: errors.New("engine connection reset")}}}, "java"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, root := newWorkflow(t, &fakeCompiler{}, tt.backend)
			resp := wf.Judge(context.Background(), sandbox.Request{Code: sumProgram, InputList: []string{"1 2"}, Language: tt.lang})
			if resp.Status != result.StatusSandboxError {
				t.Fatalf("expected sandbox error, got %+v", resp)
			}
			if resp.Message == "" {
				t.Fatalf("expected a message")
			}
			for _, r := range tt.backend.runners {
				if !r.closed {
					t.Fatalf("expected runner closed on error path")
				}
			}
			assertNoWorkspace(t, root)
		})
	}
}

func TestJudgeEmptyCode(t *testing.T) {
	wf, _ := newWorkflow(t, &fakeCompiler{}, &fakeBackend{})
	resp := wf.Judge(context.Background(), sandbox.Request{Language: "java"})
	if resp.Status != result.StatusSandboxError {
		t.Fatalf("expected sandbox error for empty code, got %+v", resp)
	}
}
