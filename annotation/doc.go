// Package annotation models Web Annotation records asserting property
// values onto target entities.
//
// An Annotation is decoded from a raw JSON record and is immutable
// afterwards. Construction is pure; attaching the annotation to its
// target entities is an explicit second step via RegisterWith, keeping
// the side effect visible at call sites.
//
// The package also implements the precedence rules over annotation
// revision history (IsSuperseded, IsUpdateOf) and the value-object
// builder that wraps an asserted value with its provenance.
package annotation
