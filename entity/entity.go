package entity

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/scriptorium-dev/palimpsest/annotation"
	"github.com/scriptorium-dev/palimpsest/ld"
)

// IDKey is the canonical identifier key. Documents addressing their
// identifier as "@id" are normalized to it on ingestion.
const IDKey = "id"

// Entity is a JSON-LD resource with an identifier and a set of
// annotations targeting it. The identifier, once assigned, is
// immutable; a different identifier is a different entity.
type Entity struct {
	// ID is the canonical identifier. Empty for detached entities,
	// which cannot be expanded.
	ID string

	mu          sync.RWMutex
	attributes  map[string]any
	annotations map[string]*annotation.Annotation
}

// New creates an entity holding only its identifier.
func New(id string) *Entity {
	return &Entity{
		ID:          id,
		attributes:  map[string]any{},
		annotations: map[string]*annotation.Annotation{},
	}
}

// FromDocument creates an entity from a decoded JSON document,
// normalizing "@id" or "id" to the canonical identifier. A document
// with no identifier yields a detached entity.
func FromDocument(doc map[string]any) *Entity {
	e := New(identifierOf(doc))
	e.SetAttributes(doc)
	return e
}

// identifierOf resolves an identifier from a decoded document under
// both addressing conventions.
func identifierOf(doc map[string]any) string {
	if doc == nil {
		return ""
	}
	if s, ok := doc["@id"].(string); ok && s != "" {
		return s
	}
	if s, ok := doc[IDKey].(string); ok && s != "" {
		return s
	}
	return ""
}

// IdentifierOf resolves an entity reference to an identifier string.
// Accepted forms: a string, an *Entity, or a decoded document carrying
// "id" or "@id". Anything else resolves to the empty string.
func IdentifierOf(ref any) string {
	switch t := ref.(type) {
	case string:
		return t
	case *Entity:
		return t.ID
	case map[string]any:
		return identifierOf(t)
	default:
		return ""
	}
}

// Get returns the value of a property.
func (e *Entity) Get(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.attributes[key]
	return v, ok
}

// Set assigns a property value. The identifier keys are immutable and
// silently ignored here.
func (e *Entity) Set(key string, value any) {
	if key == IDKey || key == "@id" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attributes[key] = value
}

// SetAttributes replaces the entity's properties with the given
// document, dropping the identifier keys. Used by the merge engine to
// reset to the freshly fetched base resource before folding.
func (e *Entity) SetAttributes(doc map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attributes = make(map[string]any, len(doc))
	for k, v := range doc {
		if k == IDKey || k == "@id" {
			continue
		}
		e.attributes[k] = v
	}
}

// Attributes returns a shallow copy of the entity's properties.
func (e *Entity) Attributes() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.attributes))
	for k, v := range e.attributes {
		out[k] = v
	}
	return out
}

// Document returns the entity as a decoded JSON document including the
// canonical identifier, suitable for match-predicate traversal.
func (e *Entity) Document() map[string]any {
	doc := e.Attributes()
	if e.ID != "" {
		doc[IDKey] = e.ID
	}
	return doc
}

// Attach adds an annotation to the entity's annotation set, keyed by
// annotation identifier so re-attachment overwrites.
func (e *Entity) Attach(a *annotation.Annotation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.annotations[a.ID] = a
}

// Annotations returns the attached annotations in identifier order.
// Merge precedence does not depend on this order; the engine folds in
// query order.
func (e *Entity) Annotations() []*annotation.Annotation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*annotation.Annotation, 0, len(e.annotations))
	for _, a := range e.annotations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Label derives a human-readable label for the entity.
func (e *Entity) Label() any {
	return ld.LabelOf(e.Document(), ld.DefaultLabel)
}

// Flatten reads a merged property back as a plain value: value objects
// are unwrapped to their underlying value and sequences to a slice of
// underlying values.
func (e *Entity) Flatten(key string, peekKeys ...string) any {
	v, ok := e.Get(key)
	if !ok {
		return nil
	}
	return flatten(v, peekKeys)
}

func flatten(v any, peekKeys []string) any {
	if vo, ok := annotation.AsValueObject(v); ok {
		return ld.Normalize(vo.Value, peekKeys...)
	}
	if seq, ok := v.([]any); ok {
		out := make([]any, 0, len(seq))
		for _, el := range seq {
			out = append(out, flatten(el, peekKeys))
		}
		return out
	}
	return ld.Normalize(v, peekKeys...)
}

// MarshalJSON renders the entity as its JSON document.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Document())
}
