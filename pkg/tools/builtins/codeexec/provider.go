// Package codeexec provides the code_exec tool set: exec_code runs a
// JavaScript snippet in the sandbox, read_file and list_tools expose the
// helper scripts shipped with the model skill.
package codeexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/pathguard"
	"github.com/rhuss/atelier/pkg/sandbox"
	"github.com/rhuss/atelier/pkg/tools"
	"github.com/rhuss/atelier/pkg/tools/registry"
)

// Name is the tool set name.
const Name = "code_exec"

// Tool names.
const (
	ToolExecCode  = "exec_code"
	ToolReadFile  = "read_file"
	ToolListTools = "list_tools"
)

var scriptExtensions = []string{".js", ".mjs", ".py", ".md"}

var _ registry.FunctionProvider = (*Provider)(nil)

// Provider is the FunctionProvider for the code_exec tool set.
type Provider struct {
	sandbox    *sandbox.Sandbox
	scriptsDir string
}

// New creates a Provider running code in sb. scriptsDir holds the helper
// scripts served by read_file and list_tools.
func New(sb *sandbox.Sandbox, scriptsDir string) *Provider {
	return &Provider{sandbox: sb, scriptsDir: scriptsDir}
}

// WithRecorder returns a copy of p whose sandbox reports model activity to r.
func (p *Provider) WithRecorder(r sandbox.Recorder) *Provider {
	c := *p
	c.sandbox = p.sandbox.WithRecorder(r)
	return &c
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Tools returns the tool definitions for this provider.
func (p *Provider) Tools() []tools.Definition {
	return Definitions()
}

// Definitions returns the code_exec tool definitions.
func Definitions() []tools.Definition {
	schema := func(props map[string]any, required ...string) json.RawMessage {
		if required == nil {
			required = []string{}
		}
		data, _ := json.Marshal(map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		})
		return data
	}

	return []tools.Definition{
		{
			Name: ToolExecCode,
			Description: "Execute JavaScript code in the project sandbox. Set __result__ to return a value. " +
				"Use await for replicate.async_run and asyncio.sleep. File access is limited to the project directory.",
			Parameters: schema(map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "JavaScript code to execute",
				},
			}, "code"),
		},
		{
			Name:        ToolReadFile,
			Description: "Read a file from the skills directory to understand tool APIs.",
			Parameters: schema(map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the skills scripts directory",
				},
			}, "path"),
		},
		{
			Name:        ToolListTools,
			Description: "List available tools in the skills directory.",
			Parameters:  schema(map[string]any{}),
		},
	}
}

// CanExecute reports whether name is one of the code_exec tools.
func (p *Provider) CanExecute(name string) bool {
	switch name {
	case ToolExecCode, ToolReadFile, ToolListTools:
		return true
	}
	return false
}

// Execute runs one code_exec tool call.
func (p *Provider) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	switch call.Name {
	case ToolExecCode:
		var args struct {
			Code string `json:"code"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return tools.ErrorResult(call.ID, fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if strings.TrimSpace(args.Code) == "" {
			return tools.ErrorResult(call.ID, "code is required"), nil
		}
		return p.execCode(ctx, call.ID, args.Code), nil

	case ToolReadFile:
		var args struct {
			Path string `json:"path"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return tools.ErrorResult(call.ID, fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		return p.readFile(call.ID, args.Path), nil

	case ToolListTools:
		return p.listTools(call.ID), nil
	}
	return tools.ErrorResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name)), nil
}

// Close releases resources.
func (p *Provider) Close() error {
	return nil
}

// execCode runs code detached from ctx's cancellation: a dropped client
// does not abort a run, the sandbox timeout does.
func (p *Provider) execCode(ctx context.Context, callID, code string) *tools.ToolResult {
	debug.Log("sandbox", "exec_code", "call_id", callID, "code", debug.Truncate(code, 500))

	res := p.sandbox.Run(context.WithoutCancel(ctx), sandbox.NewRequest(code))
	if res.IsError() {
		return tools.ErrorResult(callID, res.Text())
	}

	result := tools.TextResult(callID, res.Text())
	if len(res.Files) > 0 {
		result.Content = append(result.Content, tools.Content{
			Type: "text",
			Text: "Files written:\n" + strings.Join(res.Files, "\n"),
		})
	}
	return result
}

func (p *Provider) readFile(callID, path string) *tools.ToolResult {
	if path == "" {
		return tools.ErrorResult(callID, "path is required")
	}
	guard, err := pathguard.New(p.scriptsDir)
	if err != nil {
		return tools.ErrorResult(callID, fmt.Sprintf("File not found: %s", path))
	}
	abs, err := guard.Resolve(path)
	if err != nil {
		return tools.ErrorResult(callID, fmt.Sprintf("Error reading file: %v", err))
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return tools.ErrorResult(callID, fmt.Sprintf("File not found: %s", path))
	}
	if err != nil {
		return tools.ErrorResult(callID, fmt.Sprintf("Error reading file: %v", err))
	}
	return tools.TextResult(callID, fmt.Sprintf("File: %s\n\n%s", path, data))
}

func (p *Provider) listTools(callID string) *tools.ToolResult {
	entries, err := os.ReadDir(p.scriptsDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return tools.ErrorResult(callID, fmt.Sprintf("Error listing tools: %v", err))
	}

	var b strings.Builder
	b.WriteString("Available tools:")
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		if !slices.Contains(scriptExtensions, strings.ToLower(filepath.Ext(name))) {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(name)
	}
	return tools.TextResult(callID, b.String())
}

func decodeArgs(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
