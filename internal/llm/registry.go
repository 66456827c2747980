// Package llm holds the configured chat providers and the failover executor over them.
package llm

// File: internal/llm/registry.go
// Purpose: Immutable, ordered provider registry.

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel is the part of an eino chat model the executor needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Provider is one configured LLM endpoint.
type Provider struct {
	Name  string
	Model string
	Chat  ChatModel
}

// Registry is the ordered provider list. It is never mutated after construction.
type Registry struct {
	providers []Provider
}

// NewRegistry keeps the given order and drops later duplicates of a name.
func NewRegistry(providers ...Provider) *Registry {
	seen := make(map[string]bool, len(providers))
	list := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Name == "" || p.Chat == nil || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		list = append(list, p)
	}
	return &Registry{providers: list}
}

// Providers returns a copy of the ordered list.
func (r *Registry) Providers() []Provider {
	if r == nil {
		return nil
	}
	return append([]Provider(nil), r.providers...)
}

// Names returns the provider names in priority order.
func (r *Registry) Names() []string {
	names := []string{}
	if r == nil {
		return names
	}
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.providers)
}

// First returns the highest priority provider.
func (r *Registry) First() (Provider, bool) {
	if r.Len() == 0 {
		return Provider{}, false
	}
	return r.providers[0], true
}

// Next returns the cyclic successor of the named provider, never the named one itself.
// An unknown name yields the first provider.
func (r *Registry) Next(after string) (Provider, bool) {
	n := r.Len()
	idx := r.index(after)
	if idx < 0 {
		return r.First()
	}
	if n < 2 {
		return Provider{}, false
	}
	return r.providers[(idx+1)%n], true
}

// AttemptOrder is the rotation of the registry starting at start, or at the first
// provider when start is not registered. It walks Next from the starting provider.
func (r *Registry) AttemptOrder(start string) []Provider {
	n := r.Len()
	if n == 0 {
		return nil
	}
	cur, _ := r.First()
	if i := r.index(start); i >= 0 {
		cur = r.providers[i]
	}
	order := []Provider{cur}
	for len(order) < n {
		next, ok := r.Next(cur.Name)
		if !ok {
			break
		}
		order = append(order, next)
		cur = next
	}
	return order
}

func (r *Registry) index(name string) int {
	if r == nil {
		return -1
	}
	for i, p := range r.providers {
		if p.Name == name {
			return i
		}
	}
	return -1
}
