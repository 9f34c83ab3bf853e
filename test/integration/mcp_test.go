package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/atelier/pkg/tools"
	"github.com/rhuss/atelier/pkg/tools/builtins/codeexec"
	"github.com/rhuss/atelier/pkg/tools/mcp"
)

func TestMCPEndpoint_ExecCode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := mcp.NewMCPClient(mcp.ServerConfig{Name: "atelier", URL: testEnv.BaseURL() + "/mcp"})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	defs, err := client.DiscoverTools(ctx)
	if err != nil {
		t.Fatalf("DiscoverTools() error: %v", err)
	}
	if len(defs) != 3 {
		t.Errorf("discovered %d tools, want 3", len(defs))
	}

	res, err := client.CallTool(ctx, tools.ToolCall{
		ID:        "mcp_1",
		Name:      codeexec.ToolExecCode,
		Arguments: `{"code":"__result__ = sandbox_path.length > 0"}`,
	})
	if err != nil {
		t.Fatalf("CallTool() error: %v", err)
	}
	if res.IsError || res.Text() != "true" {
		t.Errorf("result = %+v", res)
	}

	res, err = client.CallTool(ctx, tools.ToolCall{
		ID:        "mcp_2",
		Name:      codeexec.ToolExecCode,
		Arguments: `{"code":"open('/etc/hostname')"}`,
	})
	if err != nil {
		t.Fatalf("CallTool() error: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Text(), "PermissionError") {
		t.Errorf("escape result = %+v", res)
	}
}
