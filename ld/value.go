package ld

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape classifies a decoded JSON-LD value into the closed set of forms
// the normalizer understands.
type Shape int

const (
	// ShapeEmpty is a nil value or an empty string.
	ShapeEmpty Shape = iota

	// ShapeScalar is a plain primitive (string, number, bool).
	ShapeScalar

	// ShapeWrapped is an object carrying the value under a peek key,
	// e.g. {"@value": "x"} or {"value": "x"}.
	ShapeWrapped

	// ShapeSequence is an ordered list of values.
	ShapeSequence
)

// String returns the string representation of the shape.
func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeScalar:
		return "scalar"
	case ShapeWrapped:
		return "wrapped"
	case ShapeSequence:
		return "sequence"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// Classify determines the shape of a decoded JSON value.
func Classify(v any) Shape {
	switch t := v.(type) {
	case nil:
		return ShapeEmpty
	case string:
		if t == "" {
			return ShapeEmpty
		}
		return ShapeScalar
	case []any:
		return ShapeSequence
	case map[string]any:
		return ShapeWrapped
	default:
		return ShapeScalar
	}
}

// fallbackPeekKeys is the fixed search order applied after any
// caller-supplied peek keys.
var fallbackPeekKeys = []string{"@value", "value", "$value", "val"}

// Type names a primitive type a caller may request from NormalizeAs.
type Type string

const (
	TypeString  Type = "STRING"
	TypeNumber  Type = "NUMBER"
	TypeInteger Type = "INTEGER"
	TypeBoolean Type = "BOOLEAN"
)

// ParseType parses a case-insensitive type name.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeString:
		return TypeString, nil
	case TypeNumber:
		return TypeNumber, nil
	case TypeInteger:
		return TypeInteger, nil
	case TypeBoolean:
		return TypeBoolean, nil
	default:
		return "", fmt.Errorf("unknown primitive type %q", s)
	}
}

// CoercionError reports that a value could not be coerced to an
// explicitly requested primitive type.
type CoercionError struct {
	Value  any
	Target Type
	Reason string
}

// Error implements the error interface.
func (e *CoercionError) Error() string {
	return fmt.Sprintf("ld: cannot coerce %v (%T) to %s: %s", e.Value, e.Value, e.Target, e.Reason)
}

// Normalize extracts the underlying value from a JSON-LD property value.
//
// Nil and empty-string inputs yield nil. Sequences are returned
// unchanged; callers decide single-versus-multi handling. Wrapped
// objects are searched for the caller-supplied peek keys first, then
// the fixed fallback order "@value", "value", "$value", "val"; the
// first key present wins, and an object carrying none of them is
// returned as the value itself. A single-element sequence resolved
// through a peek key is unwrapped to its sole element.
//
// Normalize never coerces and never fails; use NormalizeAs when a
// target type is required.
func Normalize(property any, peekKeys ...string) any {
	v, _ := normalize(property, peekKeys, "")
	return v
}

// NormalizeAs behaves like Normalize and additionally coerces the
// resolved value to the requested primitive type. Coercion failure is
// reported as a *CoercionError.
func NormalizeAs(property any, target Type, peekKeys ...string) (any, error) {
	return normalize(property, peekKeys, target)
}

func normalize(property any, peekKeys []string, target Type) (any, error) {
	switch Classify(property) {
	case ShapeEmpty:
		return nil, nil
	case ShapeSequence:
		// Sequences pass through untouched.
		return property, nil
	case ShapeWrapped:
		obj := property.(map[string]any)
		resolved := any(obj)
		for _, key := range append(append([]string{}, peekKeys...), fallbackPeekKeys...) {
			if v, ok := obj[key]; ok {
				resolved = v
				break
			}
		}
		if seq, ok := resolved.([]any); ok && len(seq) == 1 {
			resolved = seq[0]
		}
		return coerce(resolved, target)
	default:
		return coerce(property, target)
	}
}

func coerce(v any, target Type) (any, error) {
	if target == "" {
		return v, nil
	}
	switch target {
	case TypeString:
		return coerceString(v)
	case TypeNumber:
		return coerceNumber(v)
	case TypeInteger:
		return coerceInteger(v)
	case TypeBoolean:
		return coerceBoolean(v), nil
	default:
		return nil, &CoercionError{Value: v, Target: target, Reason: "unknown target type"}
	}
}

func coerceString(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return nil, &CoercionError{Value: v, Target: TypeString, Reason: "not a scalar"}
	}
}

func coerceNumber(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, &CoercionError{Value: v, Target: TypeNumber, Reason: "not numeric"}
		}
		return f, nil
	default:
		return nil, &CoercionError{Value: v, Target: TypeNumber, Reason: "not numeric"}
	}
}

func coerceInteger(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil, &CoercionError{Value: v, Target: TypeInteger, Reason: "not an integer"}
		}
		return n, nil
	default:
		return nil, &CoercionError{Value: v, Target: TypeInteger, Reason: "not an integer"}
	}
}

// falseLiterals are the string forms treated as false under BOOLEAN
// coercion, compared case- and whitespace-insensitively. Everything
// else coerces to true.
var falseLiterals = map[string]struct{}{
	"false":     {},
	"no":        {},
	"0":         {},
	"":          {},
	"undefined": {},
	"null":      {},
}

func coerceBoolean(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		_, isFalse := falseLiterals[strings.ToLower(strings.TrimSpace(t))]
		return !isFalse
	case nil:
		return false
	default:
		return true
	}
}
