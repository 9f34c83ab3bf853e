// Package mcp connects the agent to the Model Context Protocol in both
// directions. The server side publishes an in-process tool provider (the
// code_exec tool set) over streamable HTTP or stdio. The client side
// connects to external MCP servers, discovers their tools and executes
// calls to them as a tools.ToolExecutor.
//
// Both directions are built on the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk). Tool results keep their text
// content blocks unchanged across the protocol boundary.
package mcp
