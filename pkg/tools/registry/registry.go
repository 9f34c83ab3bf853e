package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rhuss/atelier/pkg/observability"
	"github.com/rhuss/atelier/pkg/tools"
)

// FunctionRegistry routes tool calls to in-process providers such as
// code_exec. The provider registered first owns a contested tool name.
type FunctionRegistry struct {
	mu        sync.RWMutex
	providers []FunctionProvider
	byTool    map[string]FunctionProvider
}

var _ tools.ToolExecutor = (*FunctionRegistry)(nil)

// New returns an empty registry.
func New() *FunctionRegistry {
	return &FunctionRegistry{byTool: map[string]FunctionProvider{}}
}

// Register adds p and claims each of its tool names that is still free.
func (r *FunctionRegistry) Register(p FunctionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)
	defs := p.Tools()
	for _, d := range defs {
		if owner, taken := r.byTool[d.Name]; taken {
			slog.Warn("tool already registered", "tool", d.Name, "owner", owner.Name(), "provider", p.Name())
			continue
		}
		r.byTool[d.Name] = p
	}
	slog.Debug("tool provider registered", "provider", p.Name(), "tools", len(defs))
}

// Kind returns ToolKindBuiltin.
func (r *FunctionRegistry) Kind() tools.ToolKind {
	return tools.ToolKindBuiltin
}

// CanExecute reports whether a provider owns toolName.
func (r *FunctionRegistry) CanExecute(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byTool[toolName]
	return ok
}

// Execute runs call on its provider. A panicking provider yields an error
// result instead of taking the session down.
func (r *FunctionRegistry) Execute(ctx context.Context, call tools.ToolCall) (result *tools.ToolResult, err error) {
	r.mu.RLock()
	p, ok := r.byTool[call.Name]
	r.mu.RUnlock()
	if !ok {
		return tools.ErrorResult(call.ID, fmt.Sprintf("no provider handles tool %q", call.Name)), nil
	}

	provider := p.Name()
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool provider panicked", "provider", provider, "tool", call.Name, "panic", rec)
			result, err = tools.ErrorResult(call.ID, fmt.Sprintf("internal error: tool %q panicked", call.Name)), nil
			observe(provider, call.Name, "panic", start)
		}
	}()

	result, err = p.Execute(ctx, call)
	switch {
	case err != nil:
		observe(provider, call.Name, "error", start)
	case result != nil && result.IsError:
		observe(provider, call.Name, "tool_error", start)
	default:
		observe(provider, call.Name, "success", start)
	}
	return result, err
}

func observe(provider, tool, status string, start time.Time) {
	observability.ToolExecutionsTotal.WithLabelValues(provider, tool, status).Inc()
	observability.ToolDuration.WithLabelValues(provider, tool).Observe(time.Since(start).Seconds())
}

// Definitions lists the tools of all providers in registration order,
// leaving out names owned by an earlier provider.
func (r *FunctionRegistry) Definitions() []tools.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []tools.Definition
	for _, p := range r.providers {
		for _, d := range p.Tools() {
			if r.byTool[d.Name] == p {
				defs = append(defs, d)
			}
		}
	}
	return defs
}

// Close closes every provider and joins their errors.
func (r *FunctionRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// HasProviders reports whether anything has been registered.
func (r *FunctionRegistry) HasProviders() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
