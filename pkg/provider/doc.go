// Package provider defines the interface the agent loop uses to talk to an
// LLM backend. Adapters (see openaicompat) translate ProviderRequest into
// their wire protocol and report the reply as a stream of ProviderEvent
// values, keeping backend details out of the agent.
package provider
