// Package agent runs the agentic loop behind one chat session: it streams a
// completion from the LLM provider, executes the requested tool calls and
// feeds the results back until the model produces a final answer. Every step
// is reported on an Event channel in the order it happened.
package agent
