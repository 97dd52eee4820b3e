package palimpsest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with underlying error",
			err:  NewFetchError("Engine.Expand", errors.New("connection refused")),
			want: "palimpsest: Engine.Expand (fetch): connection refused",
		},
		{
			name: "without underlying error",
			err:  &Error{Op: "Engine.Expand", Kind: KindInternal},
			want: "palimpsest: Engine.Expand: internal",
		},
		{
			name: "with context",
			err: NewFetchError("Engine.Expand", errors.New("boom")).
				WithContext(map[string]any{"identifier": "E1"}),
			want: "palimpsest: Engine.Expand (fetch): boom [context: map[identifier:E1]]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("boom")
	err := NewQueryError("Store.QueryAnnotations", underlying)

	assert.ErrorIs(t, err, underlying)
	assert.Equal(t, underlying, errors.Unwrap(err))
}

func TestError_IsMatchesKind(t *testing.T) {
	err := NewFetchError("Engine.Expand", errors.New("boom"))

	assert.ErrorIs(t, err, &Error{Kind: KindFetch})
	assert.ErrorIs(t, err, &Error{Kind: KindFetch, Op: "Engine.Expand"})
	assert.NotErrorIs(t, err, &Error{Kind: KindQuery})
	assert.NotErrorIs(t, err, &Error{Kind: KindFetch, Op: "Engine.Other"})
}

func TestError_IsMatchesSentinel(t *testing.T) {
	err := NewFetchError("Engine.Expand", ErrFetchFailed)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestError_WithContextDoesNotMutate(t *testing.T) {
	base := NewValidationError("Config.Validate", errors.New("bad backend"))
	derived := base.WithContext(map[string]any{"backend": "carrier-pigeon"})

	assert.Nil(t, base.Context)
	assert.Equal(t, "carrier-pigeon", derived.Context["backend"])
}
