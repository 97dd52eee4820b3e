// Package ld normalizes the heterogeneous value shapes found in JSON-LD
// documents and Web Annotation bodies.
//
// A property value in the wild may be a plain scalar, a wrapped object
// such as {"@value": "x"} or {"value": "x"}, or a sequence of either.
// Normalize classifies the shape once at the ingestion boundary and
// extracts the underlying value, optionally coercing it to a requested
// primitive type. The package also provides label resolution for
// entity-like objects and safe dotted-path traversal over decoded JSON.
package ld
