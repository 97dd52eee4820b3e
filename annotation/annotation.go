package annotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/scriptorium-dev/palimpsest/ld"
)

// Sentinel errors for annotation decoding.
var (
	// ErrNoIdentifier indicates a record carrying neither "id" nor "@id".
	ErrNoIdentifier = errors.New("annotation: record has no identifier")

	// ErrNoTarget indicates a record with no resolvable target reference.
	ErrNoTarget = errors.New("annotation: record has no target")
)

// History is the revision chain carried by an annotation. Previous
// points at the revision this annotation replaces; Next lists the
// revisions that replace it.
type History struct {
	Previous string   `json:"previous,omitempty"`
	Next     []string `json:"next,omitempty"`
}

// Annotation is a decoded Web Annotation record. It is never mutated
// after construction.
type Annotation struct {
	// ID is the annotation identifier.
	ID string

	// Targets are the resolved identifier strings of the entities this
	// annotation targets.
	Targets []string

	// Label is the annotation's own label, used as the citation note
	// when synthesizing provenance. Falls back through "label" and
	// "name" on the record.
	Label string

	// Evidence is the annotation-level evidence reference, if any.
	Evidence string

	// History is the revision chain, nil when the record carries none.
	History *History

	// Record is the raw decoded record, retained for provenance-path
	// matching (e.g. "creator", "history.generatedBy").
	Record map[string]any

	bodies []map[string]any
}

// Registry is the attachment surface an annotation registers with.
// entity.Registry satisfies it.
type Registry interface {
	// Attach adds the annotation to the annotation set of the entity
	// with the given identifier, creating a stub entity if none is
	// registered yet. Re-attaching the same annotation id overwrites.
	Attach(ctx context.Context, targetID string, a *Annotation) error
}

// FromRecord decodes an annotation from a raw JSON record.
//
// The target reference is resolved under the three addressing
// conventions: a plain string, an object with "@id", and an object with
// "id"; a sequence of targets yields one resolved identifier each.
// History is read from "history" or, for annotation-store records, from
// "__rerum.history". Records without an identifier are assigned a
// generated URN so locally composed annotations remain addressable.
func FromRecord(record map[string]any) (*Annotation, error) {
	if record == nil {
		return nil, ErrNoIdentifier
	}

	id := identifierOf(record)
	if id == "" {
		id = "urn:uuid:" + uuid.NewString()
	}

	targets := targetIDs(record["target"])
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTarget, id)
	}

	a := &Annotation{
		ID:      id,
		Targets: targets,
		Record:  record,
		bodies:  normalizeBodies(record["body"]),
	}

	// Citation notes prefer the record's own label over its name.
	if s, ok := record["label"].(string); ok && s != "" {
		a.Label = s
	} else if s, ok := record["name"].(string); ok && s != "" {
		a.Label = s
	}
	if ev, ok := record["evidence"].(string); ok {
		a.Evidence = ev
	}
	a.History = historyOf(record)

	return a, nil
}

// Bodies returns the annotation's body entries normalized to a
// sequence, each entry being a set of key-value assertions. A singular
// body yields a one-element slice.
func (a *Annotation) Bodies() []map[string]any {
	return a.bodies
}

// IsSuperseded reports whether a newer revision of this annotation
// exists. A superseded annotation must contribute nothing to a merge;
// its replacement is processed independently.
func (a *Annotation) IsSuperseded() bool {
	return a.History != nil && len(a.History.Next) > 0
}

// IsUpdateOf reports whether the annotation is the direct successor of
// the value recorded under existingSourceID. Only the forward edge
// counts: the annotation's declared previous revision must equal the
// existing value's citation source. The reverse relationship (the
// existing source appearing in this annotation's next list) must never
// be treated as a match, or values would be updated backwards.
func (a *Annotation) IsUpdateOf(existingSourceID string) bool {
	return a.History != nil && existingSourceID != "" && a.History.Previous == existingSourceID
}

// RegisterWith attaches the annotation to each of its target entities
// in the given registry. Construction does not do this implicitly;
// callers decide when the attachment side effect happens.
func (a *Annotation) RegisterWith(ctx context.Context, r Registry) error {
	for _, target := range a.Targets {
		if err := r.Attach(ctx, target, a); err != nil {
			return err
		}
	}
	return nil
}

func identifierOf(record map[string]any) string {
	if s, ok := record["@id"].(string); ok && s != "" {
		return s
	}
	if s, ok := record["id"].(string); ok && s != "" {
		return s
	}
	return ""
}

// targetIDs resolves a target reference under the addressing
// conventions: string, {"@id": ...}, {"id": ...}, or a sequence of any
// of these.
func targetIDs(target any) []string {
	switch t := target.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case map[string]any:
		if id := identifierOf(t); id != "" {
			return []string{id}
		}
		return nil
	case []any:
		var ids []string
		for _, el := range t {
			ids = append(ids, targetIDs(el)...)
		}
		return ids
	default:
		return nil
	}
}

func historyOf(record map[string]any) *History {
	h := ld.PathValue(record, "history")
	if h == nil {
		h = ld.PathValue(record, "__rerum.history")
	}
	m, ok := h.(map[string]any)
	if !ok {
		return nil
	}
	hist := &History{}
	if prev, ok := m["previous"].(string); ok {
		hist.Previous = prev
	}
	if next, ok := m["next"].([]any); ok {
		for _, el := range next {
			if s, ok := el.(string); ok && s != "" {
				hist.Next = append(hist.Next, s)
			}
		}
	}
	return hist
}

func normalizeBodies(body any) []map[string]any {
	switch b := body.(type) {
	case map[string]any:
		return []map[string]any{b}
	case []any:
		var bodies []map[string]any
		for _, el := range b {
			if m, ok := el.(map[string]any); ok {
				bodies = append(bodies, m)
			}
		}
		return bodies
	default:
		return nil
	}
}
