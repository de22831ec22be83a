package usecases

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"
)

// ModelSet is the persistence model set of one integration kind.
type ModelSet struct {
	Customers     interfaces.CustomerStore
	Conversations interfaces.ConversationStore
	Messages      interfaces.MessageStore
}

// Platform is everything the pipeline needs to know about one integration kind.
type Platform struct {
	Kind    string
	Models  ModelSet
	Variant PlatformVariant
	Sender  interfaces.Sender
}

// Registry maps integration kinds to their Platform. It is built once at startup
// and passed to the components that need it; it is read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]*Platform
}

func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]*Platform)}
}

func (r *Registry) Register(p Platform) error {
	kind := NormalizeKind(p.Kind)
	if kind == "" {
		return fmt.Errorf("platform kind is required")
	}
	if p.Variant == nil {
		return fmt.Errorf("platform %s: variant is required", kind)
	}
	if p.Models.Customers == nil || p.Models.Conversations == nil || p.Models.Messages == nil {
		return fmt.Errorf("platform %s: incomplete model set", kind)
	}
	p.Kind = kind

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.platforms[kind]; exists {
		return fmt.Errorf("platform already registered: %s", kind)
	}
	r.platforms[kind] = &p
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(p Platform) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Lookup returns the platform of kind. Unknown kinds are a client error and
// must not be retried.
func (r *Registry) Lookup(kind string) (*Platform, error) {
	normalized := NormalizeKind(kind)
	r.mu.RLock()
	p, ok := r.platforms[normalized]
	r.mu.RUnlock()
	if !ok {
		return nil, entities.NewValidationError(entities.CodeUnknownIntegrationKind, "unknown integration kind %q", kind)
	}
	return p, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.platforms))
	for k := range r.platforms {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NormalizeKind lowercases kind and strips the aggregator prefix
// ("smooch-telegram" -> "telegram").
func NormalizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return strings.TrimPrefix(kind, "smooch-")
}
