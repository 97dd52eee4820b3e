package match

import (
	"fmt"
	"log/slog"

	"github.com/scriptorium-dev/palimpsest/ld"
)

// DefaultPaths are the provenance fields compared when the caller does
// not supply paths of their own.
var DefaultPaths = []string{"history.generatedBy", "creator"}

// Predicate gates whether an asserting object may augment a target
// object.
type Predicate interface {
	Matches(target, asserting map[string]any) bool
}

// Outcome distinguishes a hard mismatch from the mere absence of
// evidence. An annotation carrying none of the compared provenance
// fields is not authorized in the positive-evidence sense of Matches,
// but the merge engine only rejects assertions on an actual mismatch;
// otherwise no unattributed annotation could ever assert anything.
type Outcome int

const (
	// OutcomeNoEvidence means no path qualified on both sides.
	OutcomeNoEvidence Outcome = iota

	// OutcomeMatch means at least one path fully matched and none
	// mismatched.
	OutcomeMatch

	// OutcomeMismatch means some path failed the subset check.
	OutcomeMismatch
)

// Evaluator is implemented by predicates that can report the tri-state
// outcome. The merge engine prefers it over the boolean Matches.
type Evaluator interface {
	Evaluate(target, asserting map[string]any) Outcome
}

// PathPredicate is the dotted-path subset predicate.
type PathPredicate struct {
	paths  []string
	logger *slog.Logger
}

// NewPathPredicate creates a predicate over the given paths; with none
// supplied, DefaultPaths apply. A nil logger falls back to
// slog.Default().
func NewPathPredicate(logger *slog.Logger, paths ...string) *PathPredicate {
	if logger == nil {
		logger = slog.Default()
	}
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	return &PathPredicate{paths: paths, logger: logger}
}

// Matches reports whether the asserting object is authorized to
// augment the target, requiring positive evidence: at least one
// full-subset path and no mismatch. With zero qualifying paths it
// fails.
func (p *PathPredicate) Matches(target, asserting map[string]any) bool {
	return p.Evaluate(target, asserting) == OutcomeMatch
}

// Evaluate resolves each path on both sides; a side missing the path
// contributes no evidence and the path is skipped. For a qualifying
// path, every asserting-side value must be present on the target side.
// Any shortfall is a hard mismatch that aborts the whole predicate;
// partial overlap is logged for human review but never counts.
func (p *PathPredicate) Evaluate(target, asserting map[string]any) Outcome {
	matched := false

	for _, path := range p.paths {
		targetValue := ld.PathValue(target, path)
		assertingValue := ld.PathValue(asserting, path)
		if targetValue == nil || assertingValue == nil {
			continue
		}

		targetAtoms := atoms(targetValue)
		assertingAtoms := atoms(assertingValue)
		if len(assertingAtoms) == 0 {
			continue
		}

		overlap := 0
		for _, a := range assertingAtoms {
			if containsAtom(targetAtoms, a) {
				overlap++
			}
		}

		if overlap < len(assertingAtoms) {
			if overlap > 0 {
				// Ambiguous authorization: some values lined up but
				// not all. Surfaced for review, still a mismatch.
				p.logger.Warn("incomplete match on path",
					slog.String("path", path),
					slog.Int("overlap", overlap),
					slog.Int("asserted", len(assertingAtoms)),
				)
			}
			return OutcomeMismatch
		}
		matched = true
	}

	if matched {
		return OutcomeMatch
	}
	return OutcomeNoEvidence
}

// atoms coerces a resolved path value to a flat list of atomic values
// for comparison. Wrapped objects are normalized; identifier-bearing
// objects compare by identifier.
func atoms(v any) []string {
	switch t := v.(type) {
	case []any:
		var out []string
		for _, el := range t {
			out = append(out, atoms(el)...)
		}
		return out
	case map[string]any:
		if s, ok := t["@id"].(string); ok && s != "" {
			return []string{s}
		}
		if s, ok := t["id"].(string); ok && s != "" {
			return []string{s}
		}
		n := ld.Normalize(t)
		if m, ok := n.(map[string]any); ok {
			// Unresolvable object; compare by its printed form.
			return []string{fmt.Sprint(m)}
		}
		return atoms(n)
	case nil:
		return nil
	case string:
		return []string{t}
	default:
		return []string{fmt.Sprint(t)}
	}
}

func containsAtom(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
