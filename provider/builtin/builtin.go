// Package builtin wires the concrete providers shipped with meepo into a
// provider.Registry.
package builtin

import (
	"sync"

	"github.com/hupe1980/meepo/provider"
	"github.com/hupe1980/meepo/provider/anthropic"
	"github.com/hupe1980/meepo/provider/gemini"
	"github.com/hupe1980/meepo/provider/ollama"
	"github.com/hupe1980/meepo/provider/openai"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *provider.Registry
)

// Register adds the built-in factories (openai, openrouter, anthropic, gemini,
// ollama) to r.
func Register(r *provider.Registry) {
	r.Register("openai", openai.Factory("openai"))
	r.Register("openrouter", openai.Factory("openrouter"))
	r.Register("anthropic", anthropic.Factory)
	r.Register("gemini", gemini.Factory)
	r.Register("ollama", ollama.Factory)
}

// NewRegistry returns a fresh registry holding the built-in providers.
func NewRegistry() *provider.Registry {
	r := provider.NewRegistry()
	Register(r)
	return r
}

// DefaultRegistry returns the shared registry of built-in providers.
func DefaultRegistry() *provider.Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
