// Package openaicompat implements provider.Provider for OpenAI-compatible
// Chat Completions backends (OpenAI, LiteLLM, vLLM, Anthropic's
// compatibility endpoint). It handles request serialization, SSE chunk
// streaming, tool call argument buffering and error mapping.
package openaicompat
