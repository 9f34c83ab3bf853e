package agent

import (
	"fmt"

	"github.com/rhuss/atelier/pkg/provider"
	"github.com/rhuss/atelier/pkg/sandbox"
	"github.com/rhuss/atelier/pkg/tools/builtins/codeexec"
	"github.com/rhuss/atelier/pkg/tools/registry"
)

// BridgeFactory creates bridges. The recorder receives the model activity
// of the bridge's sandbox runs; it may be nil.
type BridgeFactory interface {
	NewBridge(rec sandbox.Recorder) (Bridge, error)
}

// BridgeFactoryFunc adapts a function to BridgeFactory.
type BridgeFactoryFunc func(rec sandbox.Recorder) (Bridge, error)

// NewBridge calls f(rec).
func (f BridgeFactoryFunc) NewBridge(rec sandbox.Recorder) (Bridge, error) {
	return f(rec)
}

var _ BridgeFactory = (*Factory)(nil)

// Factory builds a Loop per session with its own code_exec tool set and
// any shared executors (remote MCP servers).
type Factory struct {
	Provider provider.Provider
	CodeExec *codeexec.Provider
	Shared   []ToolSource
	Config   Config
}

// NewBridge implements BridgeFactory.
func (f *Factory) NewBridge(rec sandbox.Recorder) (Bridge, error) {
	if f.CodeExec == nil {
		return nil, fmt.Errorf("agent: code_exec provider is required")
	}
	ce := f.CodeExec
	if rec != nil {
		ce = ce.WithRecorder(rec)
	}

	reg := registry.New()
	reg.Register(ce)

	executors := make([]ToolSource, 0, 1+len(f.Shared))
	executors = append(executors, reg)
	executors = append(executors, f.Shared...)

	l, err := NewLoop(f.Provider, executors, f.Config)
	if err != nil {
		return nil, err
	}
	l.owned = reg
	return l, nil
}
