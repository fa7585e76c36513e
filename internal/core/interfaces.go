package core

import (
	"context"
	"io"
)

// Provider is the interface implemented by each LLM backend adapter.
type Provider interface {
	// StreamChatCompletion starts a streaming completion and returns a
	// reader over normalized text fragments (caller must close). Each
	// successful Read returns the bytes of at most one upstream content
	// event, in upstream order.
	StreamChatCompletion(ctx context.Context, messages []Message, model string, maxTokens int) (io.ReadCloser, error)

	// SupportedModels returns the fixed model list for this backend.
	SupportedModels() []string

	// IsModelSupported reports whether model is in SupportedModels.
	IsModelSupported(model string) bool
}

// AdapterRegistry resolves provider names to configured adapters.
// Implemented by providers.Registry; handlers depend on this interface
// so tests can substitute scripted adapters.
type AdapterRegistry interface {
	// ResolveCredential returns the supplied credential if non-empty,
	// else the process-wide default for the named provider.
	ResolveCredential(provider, supplied string) (string, error)

	// CreateAdapter constructs the adapter for the named provider.
	// Provider matching is case-insensitive.
	CreateAdapter(provider, credential string) (Provider, error)

	// AllModels returns the supported model lists keyed by provider
	// name, independent of any credentials.
	AllModels() map[string][]string
}
