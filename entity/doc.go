// Package entity models the primary JSON-LD resource being expanded
// and the registry that guarantees at most one in-memory instance per
// identifier.
//
// An Entity is a mapping from property name to value with a canonical
// identifier. It is created from a fetched JSON document or a stub
// reference and mutated only by the merge engine folding annotation
// assertions onto it. Entities are never deleted, only superseded in
// the registry.
package entity
