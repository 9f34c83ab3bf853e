package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/atelier/pkg/pathguard"
	"github.com/rhuss/atelier/pkg/replicate"
)

type fakeRunner struct {
	output any
	err    error
	calls  []string
}

func (f *fakeRunner) Run(_ context.Context, model string, _ map[string]any) (any, error) {
	f.calls = append(f.calls, model)
	return f.output, f.err
}

func (f *fakeRunner) GetModel(_ context.Context, model string) (map[string]any, error) {
	return map[string]any{"name": model, "description": "test model"}, f.err
}

type fakeSaver struct {
	dir string
}

func (f *fakeSaver) Download(_ context.Context, urls []string, model, tag string) []replicate.DownloadResult {
	var out []replicate.DownloadResult
	for i, u := range urls {
		local := filepath.Join(f.dir, tag+"_"+string(rune('0'+i))+".png")
		os.WriteFile(local, []byte("x"), 0o644)
		out = append(out, replicate.DownloadResult{URL: u, LocalPath: local})
	}
	return out
}

type fakeRecorder struct {
	runs  []string
	infos []string
}

func (f *fakeRecorder) RecordModelRun(model, prompt string) {
	f.runs = append(f.runs, model+"|"+prompt)
}

func (f *fakeRecorder) RecordModelInfo(model string) {
	f.infos = append(f.infos, model)
}

func newTestSandbox(t *testing.T, runner ModelRunner) *Sandbox {
	t.Helper()
	root := t.TempDir()
	g, err := pathguard.New(root)
	if err != nil {
		t.Fatalf("pathguard.New: %v", err)
	}
	storage := filepath.Join(g.Root(), "data")
	os.MkdirAll(storage, 0o755)
	sb, err := New(Config{
		Guard:      g,
		Runner:     runner,
		Saver:      &fakeSaver{dir: storage},
		StorageDir: storage,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sb
}

func run(t *testing.T, sb *Sandbox, code string) Result {
	t.Helper()
	return sb.Run(context.Background(), NewRequest(code))
}

func TestNewRequiresGuard(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without guard should fail")
	}
}

func TestRun_Results(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		want     string
		wantMode Mode
	}{
		{"explicit result", "__result__ = 1+1", "2", ModeDirect},
		{"no result", "var x = 3;", SuccessMessage, ModeDirect},
		{"string result", "__result__ = 'hello'", "hello", ModeDirect},
		{"object result", "__result__ = {a: 1, b: [true, null]}", `{"a":1,"b":[true,null]}`, ModeDirect},
		{"null result", "__result__ = null", "null", ModeDirect},
		{"await without result", "await asyncio.sleep(0)", SuccessMessage, ModeSuspended},
		{"await with result", "await asyncio.sleep(0);\n__result__ = 'after'", "after", ModeSuspended},
		{"await with local result", "let __result__ = await Promise.resolve(42);", "42", ModeSuspended},
		{"json helpers", "__result__ = json.loads(json.dumps({k: 'v'})).k", "v", ModeDirect},
		{"promise result", "__result__ = Promise.resolve(5)", "5", ModeDirect},
		{"chained promise result", "__result__ = Promise.resolve(2).then(x => ({n: x * 3}))", `{"n":6}`, ModeDirect},
		{"awaited promise result", "__result__ = Promise.resolve('x');\nawait asyncio.sleep(0)", "x", ModeSuspended},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := newTestSandbox(t, &fakeRunner{})
			res := run(t, sb, tt.code)
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if res.Output != tt.want {
				t.Errorf("Output = %q, want %q", res.Output, tt.want)
			}
			if res.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", res.Mode, tt.wantMode)
			}
			if res.Text() != tt.want {
				t.Errorf("Text() = %q, want %q", res.Text(), tt.want)
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantKind Kind
		wantText string
	}{
		{
			name:     "syntax error",
			code:     "let x = ;",
			wantKind: KindSyntax,
			wantText: "Syntax error in code: ",
		},
		{
			name:     "syntax error without await is not retried",
			code:     "function (",
			wantKind: KindSyntax,
			wantText: "Syntax error in code: ",
		},
		{
			name:     "reference error",
			code:     "undefinedFunction()",
			wantKind: KindRuntime,
			wantText: "Error executing code: RuntimeError: ReferenceError: undefinedFunction is not defined",
		},
		{
			name:     "thrown error",
			code:     "throw new Error('boom')",
			wantKind: KindRuntime,
			wantText: "Error executing code: RuntimeError: boom",
		},
		{
			name:     "read outside root",
			code:     `open("/etc/passwd")`,
			wantKind: KindPermission,
			wantText: "Error executing code: PermissionError: Access denied: path '/etc/passwd' is outside project directory",
		},
		{
			name:     "join escapes root",
			code:     `Path("a").join("..", "..", "..", "etc")`,
			wantKind: KindPermission,
			wantText: "Error executing code: PermissionError: Access denied",
		},
		{
			name:     "list outside root",
			code:     `os.listdir("/")`,
			wantKind: KindPermission,
			wantText: "Error executing code: PermissionError: Access denied: cannot list '/' - outside project directory",
		},
		{
			name:     "rejected async code",
			code:     "await Promise.reject(new Error('nope'))",
			wantKind: KindRuntime,
			wantText: "Error executing code: RuntimeError: nope",
		},
		{
			name:     "rejected promise result",
			code:     "__result__ = Promise.reject(new Error('late'))",
			wantKind: KindRuntime,
			wantText: "Error executing code: RuntimeError: late",
		},
		{
			name:     "runaway recursion",
			code:     "function f(n) { return f(n + 1); }\nf(0)",
			wantKind: KindRuntime,
			wantText: "Error executing code: RuntimeError: RecursionError: maximum call stack size exceeded",
		},
		{
			name:     "permission error inside async code",
			code:     "await asyncio.sleep(0);\nPath('/etc/hosts').readText()",
			wantKind: KindPermission,
			wantText: "Error executing code: PermissionError: Access denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := newTestSandbox(t, &fakeRunner{})
			res := run(t, sb, tt.code)
			if res.Err == nil {
				t.Fatalf("expected error, got output %q", res.Output)
			}
			if res.Err.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q (message %q)", res.Err.Kind, tt.wantKind, res.Err.Message)
			}
			if !strings.HasPrefix(res.Text(), tt.wantText) {
				t.Errorf("Text() = %q, want prefix %q", res.Text(), tt.wantText)
			}
			if res.Output != "" {
				t.Errorf("Output = %q, want empty on error", res.Output)
			}
		})
	}
}

func TestRun_ProviderErrorKeepsMessage(t *testing.T) {
	runner := &fakeRunner{err: &replicate.ProviderError{Message: "NSFW content detected"}}
	sb := newTestSandbox(t, runner)

	for _, code := range []string{
		`replicate.run("owner/model", {prompt: "x"})`,
		`await replicate.async_run("owner/model", {prompt: "x"})`,
	} {
		res := run(t, sb, code)
		if res.Err == nil || res.Err.Kind != KindRuntime {
			t.Fatalf("%s: err = %v, want RuntimeError", code, res.Err)
		}
		if res.Err.Message != "NSFW content detected" {
			t.Errorf("%s: message = %q", code, res.Err.Message)
		}
	}
}

func TestRun_ModelCallsAreRecorded(t *testing.T) {
	runner := &fakeRunner{output: []any{"https://x/1.png"}}
	rec := &fakeRecorder{}
	sb := newTestSandbox(t, runner).WithRecorder(rec)

	res := run(t, sb, `
const info = replicate.get_model("owner/model");
const out = await replicate.async_run("owner/model", {prompt: "a red fox"});
__result__ = {info: info.description, out: out};
`)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Output != `{"info":"test model","out":["https://x/1.png"]}` {
		t.Errorf("Output = %q", res.Output)
	}
	if len(rec.runs) != 1 || rec.runs[0] != "owner/model|a red fox" {
		t.Errorf("recorded runs = %v", rec.runs)
	}
	if len(rec.infos) != 1 || rec.infos[0] != "owner/model" {
		t.Errorf("recorded infos = %v", rec.infos)
	}
}

func TestRun_MissingRunner(t *testing.T) {
	g, _ := pathguard.New(t.TempDir())
	sb, _ := New(Config{Guard: g})
	res := run(t, sb, `replicate.run("owner/model", {})`)
	if res.Err == nil || !strings.Contains(res.Err.Message, "not configured") {
		t.Errorf("err = %v, want not configured", res.Err)
	}
}

func TestRun_Timeout(t *testing.T) {
	g, _ := pathguard.New(t.TempDir())
	sb, _ := New(Config{Guard: g, Timeout: 50 * time.Millisecond})

	start := time.Now()
	res := run(t, sb, "while (true) {}")
	if res.Err == nil || res.Err.Kind != KindRuntime || !strings.Contains(res.Err.Message, "timed out") {
		t.Fatalf("err = %v, want timeout", res.Err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
}

func TestRun_RecursionFailsFast(t *testing.T) {
	g, _ := pathguard.New(t.TempDir())
	sb, _ := New(Config{Guard: g, Timeout: time.Minute})

	start := time.Now()
	res := run(t, sb, "function f(n) { return f(n + 1); }\nf(0)")
	if res.Err == nil || strings.Contains(res.Err.Message, "timed out") {
		t.Fatalf("err = %v, want a recursion error", res.Err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("recursion took %s to fail", elapsed)
	}

	res = run(t, sb, "function depth(n) { return n === 0 ? 0 : 1 + depth(n - 1); }\n__result__ = depth(500)")
	if res.Err != nil || res.Output != "500" {
		t.Errorf("moderate recursion = %q, %v", res.Output, res.Err)
	}
}

func TestRun_AsyncRunResultInDirectMode(t *testing.T) {
	runner := &fakeRunner{output: []any{"https://x/fox.png"}}
	sb := newTestSandbox(t, runner)

	res := run(t, sb, `__result__ = replicate.async_run("acme/flux", {prompt: "fox"})`)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Mode != ModeDirect || res.Output != `["https://x/fox.png"]` {
		t.Errorf("result = %q (mode %s), want the settled output", res.Output, res.Mode)
	}
}

func TestRun_SleepHonorsTimeout(t *testing.T) {
	g, _ := pathguard.New(t.TempDir())
	sb, _ := New(Config{Guard: g, Timeout: 50 * time.Millisecond})

	res := run(t, sb, "sleep(30)")
	if res.Err == nil || res.Err.Kind != KindRuntime {
		t.Fatalf("err = %v, want runtime error", res.Err)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	g, _ := pathguard.New(t.TempDir())
	sb, _ := New(Config{Guard: g})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	res := sb.Run(ctx, NewRequest("while (true) {}"))
	if res.Err == nil || !strings.Contains(res.Err.Message, "interrupted") {
		t.Errorf("err = %v, want interrupted", res.Err)
	}
}

func TestRun_Isolation(t *testing.T) {
	sb := newTestSandbox(t, &fakeRunner{})
	if res := run(t, sb, "var leftover = 1; __result__ = 'set'"); res.Output != "set" {
		t.Fatalf("first run output = %q", res.Output)
	}
	res := run(t, sb, "__result__ = typeof leftover")
	if res.Output != "undefined" {
		t.Errorf("second run saw state from the first: %q", res.Output)
	}
}
