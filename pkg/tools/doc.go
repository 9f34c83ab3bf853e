// Package tools defines the tool executor contract used by the agent loop.
// Executors are backed either by in-process providers (see the registry
// subpackage) or by external MCP servers.
//
// Results are lists of text content blocks, the same shape the MCP server
// returns, so a result passes through the agent, the stream multiplexer and
// the MCP endpoint without conversion.
package tools
