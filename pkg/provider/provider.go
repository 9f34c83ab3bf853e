package provider

import "context"

// Provider is a streaming LLM inference backend.
type Provider interface {
	// Name returns the provider name used in logs and metric labels.
	Name() string

	// Stream starts a streaming completion. The returned channel delivers
	// events in order and is closed after a ProviderEventDone or
	// ProviderEventError event, or when ctx is cancelled.
	Stream(ctx context.Context, req *ProviderRequest) (<-chan ProviderEvent, error)

	// ListModels returns the models the backend serves.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Close releases provider resources.
	Close() error
}
