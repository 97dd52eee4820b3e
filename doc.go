// Package palimpsest expands JSON-LD entities with the Web Annotations
// that target them.
//
// An entity's properties are distributed across a primary resource and
// a set of externally stored annotations. The Engine fetches the base
// resource, queries the annotation store for every annotation
// targeting it, and folds each authorized, current assertion onto the
// entity under a deterministic, idempotent set of rules.
//
// # Core Concepts
//
//   - Entity: the primary JSON-LD resource being expanded (package entity)
//   - Annotation: a record asserting property values onto a target (package annotation)
//   - Value object: the {value, source, evidence} wrapper a merged value takes
//   - Match predicate: the authorization gate over provenance fields (package match)
//   - History chain: previous/next revision links driving precedence
//
// # Merge Rules
//
// Annotations are folded in the order the store returns them. An
// annotation with a newer revision contributes nothing; an assertion
// whose declared previous revision equals an existing value's citation
// source replaces that value in place; otherwise values accumulate
// (scalars are replaced, value objects promote to arrays, arrays
// append). Ties between equally ranked assertions go to the
// later-processed one.
//
// # Getting Started
//
//	st, err := store.NewHTTPStore(store.HTTPOptions{
//		QueryURL: "https://store.example.org/query",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	engine := palimpsest.New(st)
//	merged, err := engine.Expand(ctx, "https://example.org/entity/1")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(merged.Flatten("name"))
//
// Expansion failures follow a fixed asymmetry: a failed base-resource
// fetch fails the whole expansion with no partial result, while a
// failed annotation query degrades to the unannotated base entity.
package palimpsest
