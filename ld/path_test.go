package ld

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathValue(t *testing.T) {
	doc := map[string]any{
		"creator": "alice",
		"history": map[string]any{
			"generatedBy": "agent-1",
			"depth":       map[string]any{"level": float64(2)},
		},
	}

	tests := []struct {
		name string
		path string
		want any
	}{
		{"top-level field", "creator", "alice"},
		{"nested field", "history.generatedBy", "agent-1"},
		{"deeply nested field", "history.depth.level", float64(2)},
		{"missing leaf", "history.missing", nil},
		{"missing intermediate", "nothing.generatedBy", nil},
		{"scalar intermediate", "creator.generatedBy", nil},
		{"empty path", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PathValue(doc, tt.path))
		})
	}
}

func TestPathValue_NilObject(t *testing.T) {
	assert.Nil(t, PathValue(nil, "creator"))
}
