// Package providers holds the factory and registry for the LLM
// provider adapters the gateway can relay to.
package providers

import (
	"fmt"
	"sort"

	"chatgate/internal/core"
)

// Builder creates a provider adapter from a resolved API credential
type Builder func(credential string) core.Provider

// builders holds all registered provider builders
var builders = make(map[string]Builder)

// Register allows provider packages to register themselves
// This should be called from init() functions in provider packages
func Register(name string, builder Builder) {
	builders[name] = builder
}

// Create instantiates a provider adapter by name
func Create(name, credential string) (core.Provider, error) {
	builder, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", name)
	}
	return builder(credential), nil
}

// ListRegistered returns all registered provider names, sorted
func ListRegistered() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
