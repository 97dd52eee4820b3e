package ld

// DefaultLabel is the fallback returned by LabelOf when no candidate
// field resolves.
const DefaultLabel = "[ unlabeled ]"

// LabelOptions configures label resolution.
type LabelOptions struct {
	// Label names a field to probe before the built-in candidates.
	Label string
}

// labelCandidates is the built-in probe order after any caller-supplied
// field name.
var labelCandidates = []string{"name", "label", "title"}

// LabelOf derives a human-readable label for an entity-like object.
//
// A string input is returned verbatim. Otherwise the candidate fields
// are probed in order: opts.Label (when set), then "name", "label",
// "title". A sequence candidate is de-duplicated into a label set (a
// []any; callers must not assume a single string). A wrapped candidate
// is resolved through Normalize. When nothing resolves, fallback is
// returned; pass DefaultLabel when no better fallback exists.
func LabelOf(obj any, fallback string, opts ...LabelOptions) any {
	if s, ok := obj.(string); ok {
		return s
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return fallback
	}

	candidates := labelCandidates
	if len(opts) > 0 && opts[0].Label != "" {
		candidates = append([]string{opts[0].Label}, labelCandidates...)
	}

	for _, field := range candidates {
		candidate, present := m[field]
		if !present || candidate == nil {
			continue
		}
		switch Classify(candidate) {
		case ShapeSequence:
			return dedupeLabels(candidate.([]any))
		case ShapeWrapped:
			if v := Normalize(candidate); v != nil {
				return v
			}
		case ShapeScalar:
			return candidate
		}
	}
	return fallback
}

// dedupeLabels normalizes each element and keeps the first occurrence
// of each distinct value, preserving order.
func dedupeLabels(seq []any) []any {
	seen := make(map[any]struct{}, len(seq))
	set := make([]any, 0, len(seq))
	for _, el := range seq {
		v := Normalize(el)
		if v == nil {
			continue
		}
		key := v
		switch v.(type) {
		case string, bool, float64, int, int64:
		default:
			// Non-comparable label values are kept without dedupe.
			set = append(set, v)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		set = append(set, v)
	}
	return set
}
