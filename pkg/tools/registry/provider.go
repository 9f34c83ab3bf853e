// Package registry aggregates in-process tool providers. A FunctionProvider
// contributes a set of tool definitions and executes them; the
// FunctionRegistry routes calls to the owning provider, records metrics and
// recovers provider panics.
package registry

import (
	"context"

	"github.com/rhuss/atelier/pkg/tools"
)

// FunctionProvider is a pluggable in-process tool provider.
type FunctionProvider interface {
	// Name returns a unique identifier for this provider (e.g., "code_exec").
	Name() string

	// Tools returns the tool definitions this provider contributes.
	Tools() []tools.Definition

	// CanExecute reports whether this provider handles the named tool.
	CanExecute(name string) bool

	// Execute runs a tool call and returns the result.
	Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error)

	// Close releases any resources held by the provider.
	Close() error
}
