// Package match decides whether an annotation is authorized to augment
// a target entity.
//
// The default predicate compares provenance fields on both objects
// under dotted property paths with strict subset semantics: every value
// the asserting side carries for a path must already be present on the
// target side. Partial overlap is surfaced as a logged warning and
// still fails the predicate. A CEL-based predicate is available for
// authorization rules that dotted-path subset checks cannot express.
package match
