package palimpsest

import (
	"errors"
	"fmt"
)

// Sentinel errors for common expansion error conditions. These errors
// can be used with errors.Is() for error checking.
var (
	// ErrIdentifierMissing indicates an entity reference with no
	// resolvable identifier. Entity and document references pass
	// through expansion unchanged instead; this error is returned for
	// references that cannot carry an identifier at all.
	ErrIdentifierMissing = errors.New("entity reference has no resolvable identifier")

	// ErrFetchFailed indicates the base resource could not be
	// fetched. This is fatal to the expansion: no partial merge is
	// produced.
	ErrFetchFailed = errors.New("base resource fetch failed")

	// ErrMalformedAssertion indicates a body entry that could not be
	// interpreted. It is contained to the entry: logged and skipped.
	ErrMalformedAssertion = errors.New("malformed assertion")
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents errors where a resource was not found.
	KindNotFound = "not_found"

	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindFetch represents base-resource fetch failures.
	KindFetch = "fetch"

	// KindQuery represents annotation query failures.
	KindQuery = "query"

	// KindCoercion represents explicit type-coercion failures.
	KindCoercion = "coercion"

	// KindInternal represents internal errors.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category
// of error.
//
// Error implements the error interface and supports error unwrapping,
// making it compatible with errors.Is() and errors.As().
type Error struct {
	// Op is the operation that failed (e.g., "Engine.Expand").
	Op string

	// Kind categorizes the error (e.g., KindFetch, KindQuery).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional),
	// such as the entity identifier or the HTTP status class.
	Context map[string]any
}

// Error implements the error interface, returning a formatted message
// that includes the operation, kind, and underlying error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("palimpsest: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("palimpsest: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("palimpsest: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error, allowing errors.Is() and
// errors.As() to work correctly with wrapped errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for Error, allowing comparison based on
// the underlying error or the Error itself.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a new Error with the provided context added.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	if newErr.Context == nil {
		newErr.Context = make(map[string]any)
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewFetchError creates a new Error with KindFetch.
func NewFetchError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindFetch, Err: err}
}

// NewQueryError creates a new Error with KindQuery.
func NewQueryError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindQuery, Err: err}
}

// NewValidationError creates a new Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewInternalError creates a new Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}
