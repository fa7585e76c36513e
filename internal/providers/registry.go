package providers

import (
	"fmt"
	"strings"

	"chatgate/internal/core"
)

// missingCredential holds the remediation message returned when neither
// the request nor the server environment carries an API key for a
// provider.
var missingCredential = map[string]string{
	"openai": "OpenAI API key required: no api_key was provided in the request and no OPENAI_API_KEY environment variable is set on the server. Get your API key from: https://platform.openai.com/api-keys",
	"claude": "Claude API key required: no api_key was provided in the request and no CLAUDE_API_KEY environment variable is set on the server. Get your API key from: https://console.anthropic.com/",
}

// Registry resolves API credentials and builds adapters for the
// registered provider set. It implements core.AdapterRegistry.
type Registry struct {
	defaults map[string]string
}

// NewRegistry creates a registry whose fallback credentials come from
// defaults, keyed by provider name.
func NewRegistry(defaults map[string]string) *Registry {
	if defaults == nil {
		defaults = make(map[string]string)
	}
	return &Registry{defaults: defaults}
}

// normalize maps a request provider name onto the registered set.
// Matching is case-insensitive and an empty name selects the default
// provider.
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return core.DefaultProvider
	}
	return name
}

func unknownProviderError(name string) error {
	return core.NewInvalidRequestError(
		fmt.Sprintf("unsupported provider %q, supported providers: %s", name, strings.Join(ListRegistered(), ", ")), nil)
}

// ResolveCredential returns the API key to use for a provider: the
// request-supplied key when present, otherwise the server default. When
// neither exists the error message tells the caller where to get a key.
func (r *Registry) ResolveCredential(provider, supplied string) (string, error) {
	name := normalize(provider)
	if _, ok := builders[name]; !ok {
		return "", unknownProviderError(name)
	}

	if supplied != "" {
		return supplied, nil
	}
	if key := r.defaults[name]; key != "" {
		return key, nil
	}

	msg, ok := missingCredential[name]
	if !ok {
		msg = fmt.Sprintf("%s API key required: provide api_key in the request or configure a server default", name)
	}
	return "", core.NewInvalidRequestError(msg, nil)
}

// CreateAdapter builds an adapter for the named provider with the given
// credential.
func (r *Registry) CreateAdapter(provider, credential string) (core.Provider, error) {
	name := normalize(provider)
	adapter, err := Create(name, credential)
	if err != nil {
		return nil, unknownProviderError(name)
	}
	return adapter, nil
}

// AllModels returns the supported model list per registered provider.
// Lists are static, so adapters are built without a credential to read
// them.
func (r *Registry) AllModels() map[string][]string {
	models := make(map[string][]string, len(builders))
	for _, name := range ListRegistered() {
		adapter, err := Create(name, "")
		if err != nil {
			continue
		}
		models[name] = adapter.SupportedModels()
	}
	return models
}
