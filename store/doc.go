// Package store defines the datastore boundary the merge engine
// consumes: fetching the base resource for an identifier and querying
// for the annotations that target it.
//
// The HTTP implementation speaks the annotation store's JSON protocol:
// resources are fetched by GET on their identifier URI and annotations
// are found by POSTing a structured query covering the target
// addressing conventions and the only-current history filter.
package store
