package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scriptorium-dev/palimpsest/annotation"
)

// Sentinel errors for registry operations.
var (
	// ErrNotRegistered indicates no entity is registered under the
	// requested identifier.
	ErrNotRegistered = errors.New("entity: not registered")

	// ErrNoIdentifier indicates an attempt to register a detached
	// entity.
	ErrNoIdentifier = errors.New("entity: entity has no identifier")
)

// Registry keys entities by identifier and enforces the
// single-instance invariant: at most one in-memory entity per
// identifier. It is a cache, not an owned graph; entities are never
// removed, only superseded by re-assignment of their attributes.
type Registry interface {
	// Get returns the entity registered under id, or ErrNotRegistered.
	Get(ctx context.Context, id string) (*Entity, error)

	// Has reports whether an entity is registered under id.
	Has(ctx context.Context, id string) (bool, error)

	// Set registers an entity. When an entity is already registered
	// under the same identifier, the existing instance is returned
	// unchanged; a duplicate instance is never created silently.
	Set(ctx context.Context, e *Entity) (*Entity, error)

	// Resolve returns the registered entity for id, creating and
	// registering a stub when none exists.
	Resolve(ctx context.Context, id string) (*Entity, error)

	// Attach adds an annotation to the annotation set of the entity
	// registered under targetID, resolving a stub if necessary.
	Attach(ctx context.Context, targetID string, a *annotation.Annotation) error
}

// MemoryRegistry is the default in-process registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entities: make(map[string]*Entity)}
}

// Get returns the entity registered under id.
func (r *MemoryRegistry) Get(_ context.Context, id string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return e, nil
}

// Has reports whether an entity is registered under id.
func (r *MemoryRegistry) Has(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[id]
	return ok, nil
}

// Set registers an entity, returning the already-registered instance
// when the identifier is taken.
func (r *MemoryRegistry) Set(_ context.Context, e *Entity) (*Entity, error) {
	if e == nil || e.ID == "" {
		return nil, ErrNoIdentifier
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entities[e.ID]; ok {
		return existing, nil
	}
	r.entities[e.ID] = e
	return e, nil
}

// Resolve returns the registered entity for id, creating a stub when
// none exists.
func (r *MemoryRegistry) Resolve(_ context.Context, id string) (*Entity, error) {
	if id == "" {
		return nil, ErrNoIdentifier
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entities[id]; ok {
		return e, nil
	}
	e := New(id)
	r.entities[id] = e
	return e, nil
}

// Attach adds an annotation to the target entity's annotation set.
func (r *MemoryRegistry) Attach(ctx context.Context, targetID string, a *annotation.Annotation) error {
	e, err := r.Resolve(ctx, targetID)
	if err != nil {
		return err
	}
	e.Attach(a)
	return nil
}
