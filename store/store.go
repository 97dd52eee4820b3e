package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/scriptorium-dev/palimpsest/annotation"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the resource does not exist at its
	// identifier URI.
	ErrNotFound = errors.New("store: resource not found")

	// ErrQueryFailed indicates the annotation query could not be
	// executed. Callers degrade to zero annotations; the error exists
	// so logs can distinguish a failed query from a legitimately empty
	// result.
	ErrQueryFailed = errors.New("store: annotation query failed")
)

// Query expresses an annotation search: every annotation whose target
// matches the identifier under any addressing convention, restricted
// to current (non-superseded) revisions unless OnlyCurrent is cleared.
type Query struct {
	// TargetID is the identifier annotations must target.
	TargetID string

	// OnlyCurrent excludes annotations with a non-empty history next
	// chain at query time. This is an optimization; the merge engine
	// re-checks supersession as a correctness backstop.
	OnlyCurrent bool

	// Limit caps the number of returned records; zero means no cap.
	Limit int
}

// QueryClient executes annotation queries.
type QueryClient interface {
	// QueryAnnotations returns the annotations matching the query, in
	// datastore order. The merge engine folds assertions in exactly
	// this order.
	QueryAnnotations(ctx context.Context, q Query) ([]*annotation.Annotation, error)
}

// ResourceFetcher fetches the base resource document for an
// identifier.
type ResourceFetcher interface {
	// FetchResource returns the parsed JSON document at the
	// identifier URI. Failures classify as *StatusError when an HTTP
	// status was received.
	FetchResource(ctx context.Context, id string) (map[string]any, error)
}

// Store is the full datastore capability the engine consumes.
type Store interface {
	QueryClient
	ResourceFetcher
}

// StatusError is an HTTP-classified fetch failure.
type StatusError struct {
	Code int
	URL  string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("store: %s: %d %s (%s)", e.URL, e.Code, http.StatusText(e.Code), e.Class())
}

// Is makes a 404 StatusError match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Class maps the status code onto the warning categories surfaced to
// callers.
func (e *StatusError) Class() string {
	switch e.Code {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "server_error"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if e.Code >= 500 {
			return "server_error"
		}
		return "request_error"
	}
}
