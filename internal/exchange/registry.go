package exchange

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// Registry holds the resilient client for each configured venue. The map
// is built once at startup and read-only afterwards.
type Registry struct {
	clients map[string]*ResilientClient
}

// NewRegistry builds a Registry from wrapped clients.
func NewRegistry(clients ...*ResilientClient) *Registry {
	m := make(map[string]*ResilientClient, len(clients))
	for _, c := range clients {
		m[c.Name()] = c
	}
	return &Registry{clients: m}
}

// Get returns the client for a venue.
func (r *Registry) Get(name string) (Client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("exchange: unknown venue %q: %w", name, domain.ErrNotFound)
	}
	return c, nil
}

// Available reports whether the named venue exists and its breaker is
// closed. Unknown venues count as unavailable.
func (r *Registry) Available(name string) bool {
	c, ok := r.clients[name]
	return ok && c.Available()
}

// Names returns the configured venue names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
