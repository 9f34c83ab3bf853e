package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/rhuss/atelier/pkg/pathguard"
	"github.com/rhuss/atelier/pkg/replicate"
)

const maxStdout = 1 << 20

// maxCallDepth bounds script recursion; runaway recursion fails at once
// instead of growing memory until the run times out.
const maxCallDepth = 1000

// env is the per-run state behind the script bindings.
type env struct {
	ctx    context.Context
	sb     *Sandbox
	rt     *goja.Runtime
	stdout strings.Builder
	files  []string
	open   []*os.File
}

func newEnv(ctx context.Context, sb *Sandbox) *env {
	rt := goja.New()
	rt.SetMaxCallStackSize(maxCallDepth)
	return &env{ctx: ctx, sb: sb, rt: rt}
}

func (e *env) close() {
	for _, f := range e.open {
		f.Close()
	}
	e.open = nil
}

func (e *env) guard() *pathguard.Guard {
	return e.sb.cfg.Guard
}

// install sets up the global bindings and runs the prelude.
func (e *env) install() error {
	set := func(name string, v any) {
		if err := e.rt.Set(name, v); err != nil {
			panic(err)
		}
	}

	set("print", e.print)
	set("__sleep", e.sleep)
	set("sleep", e.sleep)
	set("Path", e.newPath)
	set("open", e.openFile)
	set("download", e.download)
	set("sandbox_path", e.guard().Root())
	set("storage_path", e.sb.cfg.StorageDir)
	set("os", e.osModule())
	set("replicate", e.replicateModule())

	if _, err := e.rt.RunString(prelude); err != nil {
		return fmt.Errorf("sandbox prelude: %w", err)
	}
	return nil
}

// throw raises a script error of the named class.
func (e *env) throw(class, msg string) {
	ctor := e.rt.Get(class)
	if ctor == nil || goja.IsUndefined(ctor) {
		panic(e.rt.NewGoError(errors.New(msg)))
	}
	obj, err := e.rt.New(ctor, e.rt.ToValue(msg))
	if err != nil {
		panic(e.rt.NewGoError(errors.New(msg)))
	}
	panic(obj)
}

// fail raises err, keeping permission errors distinguishable.
func (e *env) fail(err error) {
	if errors.Is(err, pathguard.ErrPermission) {
		e.throw("PermissionError", err.Error())
	}
	e.throw("Error", err.Error())
}

func (e *env) resolve(v goja.Value) pathguard.Path {
	p, err := e.guard().Path(pathArg(v))
	if err != nil {
		e.fail(err)
	}
	return p
}

func pathArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "."
	}
	return v.String()
}

func (e *env) recordFile(path string) {
	if !slices.Contains(e.files, path) {
		e.files = append(e.files, path)
	}
}

func (e *env) format(v goja.Value) (string, error) {
	fn, ok := goja.AssertFunction(e.rt.Get("__format"))
	if !ok {
		return v.String(), nil
	}
	out, err := fn(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func (e *env) print(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, arg := range call.Arguments {
		s, err := e.format(arg)
		if err != nil {
			s = arg.String()
		}
		parts = append(parts, s)
	}
	if e.stdout.Len() < maxStdout {
		e.stdout.WriteString(strings.Join(parts, " "))
		e.stdout.WriteByte('\n')
	}
	return goja.Undefined()
}

func (e *env) sleep(call goja.FunctionCall) goja.Value {
	seconds := call.Argument(0).ToFloat()
	if seconds <= 0 {
		return goja.Undefined()
	}
	t := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.ctx.Done():
		e.throw("Error", "sleep interrupted: "+e.ctx.Err().Error())
	}
	return goja.Undefined()
}

// newPath implements Path(...parts).
func (e *env) newPath(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, arg := range call.Arguments {
		parts = append(parts, arg.String())
	}
	if len(parts) == 0 {
		parts = []string{"."}
	}
	p, err := e.guard().Path(parts...)
	if err != nil {
		e.fail(err)
	}
	return e.pathObject(p)
}

func (e *env) pathObject(p pathguard.Path) *goja.Object {
	abs := p.String()
	obj := e.rt.NewObject()
	obj.DefineDataProperty("__path", e.rt.ToValue(abs), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

	ext := filepath.Ext(abs)
	obj.Set("name", filepath.Base(abs))
	obj.Set("suffix", ext)
	obj.Set("stem", strings.TrimSuffix(filepath.Base(abs), ext))

	str := func(goja.FunctionCall) goja.Value { return e.rt.ToValue(abs) }
	obj.Set("toString", str)
	obj.Set("toJSON", str)

	obj.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		next, err := p.Join(parts...)
		if err != nil {
			e.fail(err)
		}
		return e.pathObject(next)
	})
	obj.Set("parent", func(goja.FunctionCall) goja.Value {
		return e.pathObject(p.Parent())
	})
	obj.Set("relative", func(goja.FunctionCall) goja.Value {
		return e.rt.ToValue(p.Rel())
	})
	obj.Set("exists", func(goja.FunctionCall) goja.Value {
		_, err := os.Stat(abs)
		return e.rt.ToValue(err == nil)
	})
	obj.Set("isDir", func(goja.FunctionCall) goja.Value {
		fi, err := os.Stat(abs)
		return e.rt.ToValue(err == nil && fi.IsDir())
	})
	obj.Set("isFile", func(goja.FunctionCall) goja.Value {
		fi, err := os.Stat(abs)
		return e.rt.ToValue(err == nil && fi.Mode().IsRegular())
	})
	obj.Set("stat", func(goja.FunctionCall) goja.Value {
		fi, err := os.Stat(abs)
		if err != nil {
			e.fail(err)
		}
		return e.rt.ToValue(map[string]any{
			"size":   fi.Size(),
			"mtime":  float64(fi.ModTime().UnixNano()) / 1e9,
			"is_dir": fi.IsDir(),
		})
	})
	obj.Set("readText", func(goja.FunctionCall) goja.Value {
		data, err := os.ReadFile(abs)
		if err != nil {
			e.fail(err)
		}
		return e.rt.ToValue(string(data))
	})
	obj.Set("readBytes", func(goja.FunctionCall) goja.Value {
		data, err := os.ReadFile(abs)
		if err != nil {
			e.fail(err)
		}
		return e.rt.ToValue(base64.StdEncoding.EncodeToString(data))
	})
	obj.Set("writeText", func(call goja.FunctionCall) goja.Value {
		data := call.Argument(0).String()
		if err := os.WriteFile(abs, []byte(data), 0o644); err != nil {
			e.fail(err)
		}
		e.recordFile(abs)
		return e.rt.ToValue(len(data))
	})
	obj.Set("writeBytes", func(call goja.FunctionCall) goja.Value {
		data, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			e.throw("Error", "writeBytes expects base64 data: "+err.Error())
		}
		if err := os.WriteFile(abs, data, 0o644); err != nil {
			e.fail(err)
		}
		e.recordFile(abs)
		return e.rt.ToValue(len(data))
	})
	obj.Set("mkdir", func(goja.FunctionCall) goja.Value {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			e.fail(err)
		}
		return goja.Undefined()
	})
	obj.Set("unlink", func(goja.FunctionCall) goja.Value {
		if err := os.Remove(abs); err != nil {
			e.fail(err)
		}
		return goja.Undefined()
	})
	obj.Set("list", func(goja.FunctionCall) goja.Value {
		names, err := e.guard().ListDir(abs)
		if err != nil {
			e.fail(err)
		}
		items := make([]any, 0, len(names))
		for _, name := range names {
			child, err := p.Join(name)
			if err != nil {
				continue
			}
			items = append(items, e.pathObject(child))
		}
		return e.rt.NewArray(items...)
	})
	return obj
}

// openFile implements open(path, mode). Modes r, w and a are supported;
// a trailing b is accepted and ignored.
func (e *env) openFile(call goja.FunctionCall) goja.Value {
	p := e.resolve(call.Argument(0))
	mode := "r"
	if m := call.Argument(1); !goja.IsUndefined(m) {
		mode = strings.TrimSuffix(m.String(), "b")
	}

	var flag int
	switch mode {
	case "r":
		flag = os.O_RDONLY
	case "w":
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case "a":
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		e.throw("Error", fmt.Sprintf("unsupported file mode %q", mode))
	}

	f, err := os.OpenFile(p.String(), flag, 0o644)
	if err != nil {
		e.fail(err)
	}
	e.open = append(e.open, f)
	if mode != "r" {
		e.recordFile(p.String())
	}

	obj := e.rt.NewObject()
	obj.Set("name", p.String())
	obj.Set("mode", mode)
	obj.Set("read", func(goja.FunctionCall) goja.Value {
		data, err := io.ReadAll(f)
		if err != nil {
			e.fail(err)
		}
		return e.rt.ToValue(string(data))
	})
	obj.Set("write", func(call goja.FunctionCall) goja.Value {
		n, err := f.WriteString(call.Argument(0).String())
		if err != nil {
			e.fail(err)
		}
		return e.rt.ToValue(n)
	})
	obj.Set("close", func(goja.FunctionCall) goja.Value {
		f.Close()
		return goja.Undefined()
	})
	return obj
}

func (e *env) osModule() *goja.Object {
	osObj := e.rt.NewObject()
	osObj.Set("getcwd", func(goja.FunctionCall) goja.Value {
		return e.rt.ToValue(e.guard().Root())
	})
	osObj.Set("listdir", func(call goja.FunctionCall) goja.Value {
		names, err := e.guard().ListDir(pathArg(call.Argument(0)))
		if err != nil {
			e.fail(err)
		}
		items := make([]any, len(names))
		for i, n := range names {
			items[i] = n
		}
		return e.rt.NewArray(items...)
	})
	osObj.Set("makedirs", func(call goja.FunctionCall) goja.Value {
		p := e.resolve(call.Argument(0))
		if err := os.MkdirAll(p.String(), 0o755); err != nil {
			e.fail(err)
		}
		return goja.Undefined()
	})

	pathObj := e.rt.NewObject()
	pathObj.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		return e.rt.ToValue(filepath.Join(parts...))
	})
	pathObj.Set("basename", func(call goja.FunctionCall) goja.Value {
		return e.rt.ToValue(filepath.Base(call.Argument(0).String()))
	})
	pathObj.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return e.rt.ToValue(filepath.Dir(call.Argument(0).String()))
	})
	pathObj.Set("splitext", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		ext := filepath.Ext(s)
		return e.rt.NewArray(strings.TrimSuffix(s, ext), ext)
	})
	pathObj.Set("exists", func(call goja.FunctionCall) goja.Value {
		p := e.resolve(call.Argument(0))
		_, err := os.Stat(p.String())
		return e.rt.ToValue(err == nil)
	})
	pathObj.Set("abspath", func(call goja.FunctionCall) goja.Value {
		return e.rt.ToValue(e.resolve(call.Argument(0)).String())
	})
	osObj.Set("path", pathObj)
	return osObj
}

func (e *env) replicateModule() *goja.Object {
	obj := e.rt.NewObject()
	obj.Set("run", func(call goja.FunctionCall) goja.Value {
		runner := e.runner()
		model := call.Argument(0).String()
		input, _ := call.Argument(1).Export().(map[string]any)
		if rec := e.sb.recorder; rec != nil {
			prompt, _ := input["prompt"].(string)
			rec.RecordModelRun(model, prompt)
		}
		out, err := runner.Run(e.ctx, model, input)
		if err != nil {
			e.throw("ProviderError", err.Error())
		}
		return e.rt.ToValue(out)
	})
	obj.Set("get_model", func(call goja.FunctionCall) goja.Value {
		runner := e.runner()
		model := call.Argument(0).String()
		if rec := e.sb.recorder; rec != nil {
			rec.RecordModelInfo(model)
		}
		info, err := runner.GetModel(e.ctx, model)
		if err != nil {
			e.throw("ProviderError", err.Error())
		}
		return e.rt.ToValue(info)
	})
	return obj
}

func (e *env) runner() ModelRunner {
	if e.sb.cfg.Runner == nil {
		e.throw("ProviderError", "model provider is not configured")
	}
	return e.sb.cfg.Runner
}

// download implements download(urlsOrOutput, model, tag).
func (e *env) download(call goja.FunctionCall) goja.Value {
	if e.sb.cfg.Saver == nil {
		e.throw("Error", "storage is not configured")
	}
	urls := replicate.OutputURLs(call.Argument(0).Export())
	model := call.Argument(1).String()
	tag := "output"
	if t := call.Argument(2); !goja.IsUndefined(t) {
		tag = t.String()
	}

	results := e.sb.cfg.Saver.Download(e.ctx, urls, model, tag)
	items := make([]any, 0, len(results))
	for _, r := range results {
		item := map[string]any{"url": r.URL}
		if r.LocalPath != "" {
			item["local_path"] = r.LocalPath
			e.recordFile(r.LocalPath)
		}
		if r.Error != "" {
			item["error"] = r.Error
		}
		items = append(items, item)
	}
	return e.rt.NewArray(items...)
}
