package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/sanyamjain04/plane/internal/domain"
)

// CredentialResolver turns an integration's opaque credential reference into
// provider auth material. Owned by the auth collaborator.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialRef string) (string, error)
}

// BuildFunc constructs a provider client from resolved auth material.
type BuildFunc func(token string) Client

// Registry maps provider kinds to client builders. Engines ask it for a
// client per integration; providers register themselves at wiring time.
type Registry struct {
	creds CredentialResolver

	mu       sync.RWMutex
	builders map[string]BuildFunc
}

func NewRegistry(creds CredentialResolver) *Registry {
	return &Registry{
		creds:    creds,
		builders: make(map[string]BuildFunc),
	}
}

func (r *Registry) Register(kind string, build BuildFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = build
}

func (r *Registry) ClientFor(ctx context.Context, integ *domain.Integration) (Client, error) {
	r.mu.RLock()
	build, ok := r.builders[integ.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, Permanent("registry", fmt.Errorf("no adapter registered for provider %q", integ.Provider))
	}

	token, err := r.creds.Resolve(ctx, integ.CredentialRef)
	if err != nil {
		return nil, Permanent("registry", fmt.Errorf("resolve credential: %w", err))
	}
	return build(token), nil
}
