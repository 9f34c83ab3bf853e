// Package sandbox executes agent-submitted JavaScript in an embedded goja
// runtime. Every run gets a fresh runtime whose filesystem bindings go
// through a pathguard.Guard, so code can only touch files under the project
// root. Snippets that use await are evaluated as the body of an async
// function; everything else runs as a plain script.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/observability"
	"github.com/rhuss/atelier/pkg/pathguard"
	"github.com/rhuss/atelier/pkg/replicate"
)

// DefaultTimeout bounds a single execution when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// ModelRunner runs hosted models for the replicate binding.
type ModelRunner interface {
	Run(ctx context.Context, model string, input map[string]any) (any, error)
	GetModel(ctx context.Context, model string) (map[string]any, error)
}

// OutputSaver stores model outputs for the download binding.
type OutputSaver interface {
	Download(ctx context.Context, urls []string, model, tag string) []replicate.DownloadResult
}

// Recorder observes model activity on behalf of a session.
type Recorder interface {
	RecordModelInfo(model string)
	RecordModelRun(model, prompt string)
}

// Config holds the collaborators of a Sandbox.
type Config struct {
	Guard      *pathguard.Guard
	Runner     ModelRunner
	Saver      OutputSaver
	StorageDir string
	Timeout    time.Duration
}

// Sandbox runs code snippets. It is safe for concurrent use; each Run gets
// its own runtime.
type Sandbox struct {
	cfg      Config
	recorder Recorder
}

// New creates a Sandbox. A guard is required.
func New(cfg Config) (*Sandbox, error) {
	if cfg.Guard == nil {
		return nil, errors.New("sandbox: path guard is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Sandbox{cfg: cfg}, nil
}

// WithRecorder returns a copy of s that reports model activity to r.
func (s *Sandbox) WithRecorder(r Recorder) *Sandbox {
	c := *s
	c.recorder = r
	return &c
}

// Root returns the directory code is confined to.
func (s *Sandbox) Root() string {
	return s.cfg.Guard.Root()
}

// Run executes req and classifies the outcome. Cancelling ctx or exceeding
// the configured timeout interrupts the script.
func (s *Sandbox) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	res := s.run(ctx, req)
	res.Duration = time.Since(start)

	outcome := "ok"
	if res.Err != nil {
		outcome = string(res.Err.Kind)
	}
	observability.SandboxExecutionsTotal.WithLabelValues(string(res.Mode), outcome).Inc()
	observability.SandboxDuration.WithLabelValues(string(res.Mode)).Observe(res.Duration.Seconds())

	if res.Err != nil {
		debug.Log("sandbox", "execution failed", "mode", res.Mode, "kind", res.Err.Kind, "error", debug.Truncate(res.Err.Message, 200))
	} else {
		debug.Log("sandbox", "execution finished", "mode", res.Mode, "duration", res.Duration, "files", len(res.Files))
	}
	if res.Stdout != "" {
		debug.Trace("sandbox", "captured output", "stdout", debug.Truncate(res.Stdout, 2000))
	}
	return res
}

func (s *Sandbox) run(ctx context.Context, req Request) (res Result) {
	res.Mode = ModeDirect

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	e := newEnv(runCtx, s)
	defer e.close()
	defer func() {
		res.Stdout = e.stdout.String()
		res.Files = e.files
		if r := recover(); r != nil {
			res.Output = ""
			res.Err = &ExecError{Kind: KindRuntime, Message: fmt.Sprint(r)}
		}
	}()

	stop := context.AfterFunc(runCtx, func() {
		reason := "execution interrupted"
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("execution timed out after %s", s.cfg.Timeout)
		}
		e.rt.Interrupt(reason)
	})
	defer stop()

	if err := e.install(); err != nil {
		res.Err = &ExecError{Kind: KindRuntime, Message: err.Error()}
		return res
	}

	prg, err := goja.Compile("<code>", req.Code, false)
	if err != nil {
		var syn *goja.CompilerSyntaxError
		if !errors.As(err, &syn) || !req.Suspends {
			res.Err = classify(err)
			return res
		}
		debug.Log("sandbox", "escalating to suspended evaluation")
		res.Mode = ModeSuspended
		return e.runSuspended(req.Code, res)
	}

	if _, err := e.rt.RunProgram(prg); err != nil {
		res.Err = classify(err)
		return res
	}
	v, err := e.rt.RunString(resultProbe)
	if err != nil {
		res.Err = classify(err)
		return res
	}
	res.Output, res.Err = e.render(v)
	return res
}

func (e *env) runSuspended(code string, res Result) Result {
	prg, err := goja.Compile("<code>", suspendedWrapper(code), false)
	if err != nil {
		res.Err = classify(err)
		return res
	}
	v, err := e.rt.RunProgram(prg)
	if err != nil {
		res.Err = classify(err)
		return res
	}

	res.Output, res.Err = e.render(v)
	return res
}

// render stringifies a result value; undefined means no result was set.
// A promise is replaced by its settled value, so an async_run result
// stored in __result__ renders the same in both modes.
func (e *env) render(v goja.Value) (string, *ExecError) {
	if v == nil || goja.IsUndefined(v) {
		return SuccessMessage, nil
	}
	if obj, ok := v.(*goja.Object); ok {
		if p, ok := obj.Export().(*goja.Promise); ok {
			switch p.State() {
			case goja.PromiseStateFulfilled:
				return e.render(p.Result())
			case goja.PromiseStateRejected:
				return "", classifyValue(p.Result())
			default:
				return "", &ExecError{Kind: KindRuntime, Message: "async code never settled"}
			}
		}
	}
	s, err := e.format(v)
	if err != nil {
		return "", classify(err)
	}
	return s, nil
}

func classify(err error) *ExecError {
	var syn *goja.CompilerSyntaxError
	if errors.As(err, &syn) {
		return &ExecError{Kind: KindSyntax, Message: strings.TrimPrefix(syn.Error(), "SyntaxError: ")}
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return &ExecError{Kind: KindRuntime, Message: "RecursionError: maximum call stack size exceeded"}
	}
	var intr *goja.InterruptedError
	if errors.As(err, &intr) {
		return &ExecError{Kind: KindRuntime, Message: fmt.Sprint(intr.Value())}
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if ee := classifyValue(exc.Value()); ee != nil {
			return ee
		}
		return &ExecError{Kind: KindRuntime, Message: exc.Error()}
	}
	return &ExecError{Kind: KindRuntime, Message: err.Error()}
}

// classifyValue maps a thrown script value onto an error kind using its
// name property.
func classifyValue(v goja.Value) *ExecError {
	if v == nil {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return &ExecError{Kind: KindRuntime, Message: v.String()}
	}
	name := propString(obj, "name")
	msg := propString(obj, "message")
	if name == "" && msg == "" {
		return &ExecError{Kind: KindRuntime, Message: v.String()}
	}

	switch name {
	case "PermissionError":
		return &ExecError{Kind: KindPermission, Message: msg}
	case "ProviderError":
		return &ExecError{Kind: KindRuntime, Message: msg}
	case "", "Error":
		return &ExecError{Kind: KindRuntime, Message: msg}
	}
	return &ExecError{Kind: KindRuntime, Message: name + ": " + msg}
}

func propString(obj *goja.Object, key string) string {
	v := obj.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
