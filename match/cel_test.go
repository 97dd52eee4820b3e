package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELPredicate(t *testing.T) {
	p, err := NewCELPredicate(`asserting.creator == target.creator`)
	require.NoError(t, err)

	assert.True(t, p.Matches(
		map[string]any{"creator": "alice"},
		map[string]any{"creator": "alice"},
	))
	assert.False(t, p.Matches(
		map[string]any{"creator": "alice"},
		map[string]any{"creator": "mallory"},
	))
}

// Missing keys at evaluation time deny authorization instead of
// propagating an error into the merge.
func TestCELPredicate_EvalErrorFailsClosed(t *testing.T) {
	p, err := NewCELPredicate(`asserting.creator == target.creator`)
	require.NoError(t, err)

	assert.False(t, p.Matches(map[string]any{}, map[string]any{"creator": "alice"}))
}

func TestNewCELPredicate_CompileError(t *testing.T) {
	_, err := NewCELPredicate(`asserting.creator ==`)
	require.Error(t, err)
}

func TestCELPredicate_NonBooleanResult(t *testing.T) {
	p, err := NewCELPredicate(`asserting.creator`)
	require.NoError(t, err)

	assert.False(t, p.Matches(
		map[string]any{"creator": "alice"},
		map[string]any{"creator": "alice"},
	))
}
