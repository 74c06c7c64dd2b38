// Package llm resolves model selectors to generation providers.
//
// Selectors are the short names the API exposes ("gemini", "gemini-2.5-pro");
// each maps to a concrete provider model. An unknown selector is a client
// error, never a silent fallback to the default: answering with a different
// model than the one requested would be lying to the caller.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownModel indicates a selector no provider is registered for.
	ErrUnknownModel = errors.New("unknown model")

	// ErrGenerationFailed indicates the provider failed after retries.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrEmptyResponse indicates the provider returned no usable text.
	ErrEmptyResponse = errors.New("empty model response")
)

// Generator produces an answer for a fully assembled prompt.
type Generator interface {
	// Name reports the provider model identifier, for logging.
	Name() string

	// Generate returns the model's text response to prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Registry maps model selectors to Generators.
//
// Safe for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu         sync.RWMutex
	defaultKey string
	generators map[string]Generator
}

// NewRegistry creates a Registry whose empty selector resolves to defaultKey.
func NewRegistry(defaultKey string) *Registry {
	return &Registry{
		defaultKey: defaultKey,
		generators: make(map[string]Generator),
	}
}

// Register binds a selector to a generator, replacing any previous binding.
func (r *Registry) Register(selector string, gen Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[selector] = gen
}

// Resolve returns the generator for selector. The empty selector resolves to
// the registry default; an unregistered selector returns ErrUnknownModel.
func (r *Registry) Resolve(selector string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if selector == "" {
		selector = r.defaultKey
	}
	gen, ok := r.generators[selector]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, selector)
	}
	return gen, nil
}

// Default reports the default selector.
func (r *Registry) Default() string {
	return r.defaultKey
}

// Models lists all registered selectors, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.generators))
	for k := range r.generators {
		models = append(models, k)
	}
	sort.Strings(models)
	return models
}
