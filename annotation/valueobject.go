package annotation

import "github.com/scriptorium-dev/palimpsest/ld"

// Attribution is the static comment recorded on provenance synthesized
// for a merged value.
const Attribution = "Asserted by an annotation."

// composedNote is the citation note used when the asserting annotation
// carries no label of its own.
const composedNote = "composed value"

// Source is the provenance of a merged value. CitationSource always
// resolves to the identifier of the annotation (or pre-existing source)
// that asserted the value; the precedence resolver compares it against
// an annotation's previous-revision link to detect updates.
type Source struct {
	CitationSource string `json:"citationSource"`
	CitationNote   string `json:"citationNote,omitempty"`
	Comment        string `json:"comment,omitempty"`
}

// ValueObject is the normalized shape an asserted value takes once
// merged onto an entity.
type ValueObject struct {
	Value    any    `json:"value"`
	Source   Source `json:"source"`
	Evidence string `json:"evidence"`
}

// BuildValueObject wraps a raw asserted value with its provenance.
//
// A source already present on the raw value passes through, preserving
// deeper provenance chains; otherwise provenance is synthesized from
// the asserting annotation. The value is the raw value's "value" field
// when present, else the normalized raw value itself. Evidence falls
// back from the raw value to the annotation to the empty string. Pure
// transform, no side effects.
func BuildValueObject(raw any, from *Annotation) *ValueObject {
	vo := &ValueObject{}

	rawMap, _ := raw.(map[string]any)

	if src, ok := sourceOf(rawMap); ok {
		vo.Source = src
	} else {
		note := composedNote
		if from.Label != "" {
			note = from.Label
		}
		vo.Source = Source{
			CitationSource: from.ID,
			CitationNote:   note,
			Comment:        Attribution,
		}
	}

	if rawMap != nil {
		if v, ok := rawMap["value"]; ok {
			vo.Value = v
		} else {
			vo.Value = ld.Normalize(raw)
		}
	} else {
		vo.Value = ld.Normalize(raw)
	}

	switch {
	case rawMap != nil && rawMap["evidence"] != nil:
		if ev, ok := rawMap["evidence"].(string); ok {
			vo.Evidence = ev
		}
	case from.Evidence != "":
		vo.Evidence = from.Evidence
	}

	return vo
}

// AsValueObject recognizes a merged value object in either its typed
// form or the map form it takes after a JSON round trip.
func AsValueObject(v any) (*ValueObject, bool) {
	switch t := v.(type) {
	case *ValueObject:
		return t, true
	case map[string]any:
		src, ok := sourceOf(t)
		if !ok {
			return nil, false
		}
		if _, hasValue := t["value"]; !hasValue {
			return nil, false
		}
		vo := &ValueObject{Value: t["value"], Source: src}
		if ev, ok := t["evidence"].(string); ok {
			vo.Evidence = ev
		}
		return vo, true
	default:
		return nil, false
	}
}

func sourceOf(m map[string]any) (Source, bool) {
	if m == nil {
		return Source{}, false
	}
	raw, ok := m["source"].(map[string]any)
	if !ok {
		return Source{}, false
	}
	src := Source{}
	if s, ok := raw["citationSource"].(string); ok {
		src.CitationSource = s
	}
	if s, ok := raw["citationNote"].(string); ok {
		src.CitationNote = s
	}
	if s, ok := raw["comment"].(string); ok {
		src.Comment = s
	}
	return src, src.CitationSource != ""
}
