package ld

import "strings"

// PathValue resolves a dotted property path against a decoded JSON
// object. A missing or non-object intermediate step yields nil rather
// than an error.
func PathValue(obj map[string]any, path string) any {
	if obj == nil || path == "" {
		return nil
	}
	var current any = obj
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}
