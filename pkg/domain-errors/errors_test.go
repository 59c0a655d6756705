package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodes(t *testing.T) {
	t.Run("wrap keeps cause reachable", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrap(cause, CodeInternal, "load edge")
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.True(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})

	t.Run("wrap of nil is nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "noop"))
	})

	t.Run("inner code found through outer code", func(t *testing.T) {
		inner := New(CodeAmbiguousTopology, "two candidates")
		outer := Wrap(fmt.Errorf("feature f1: %w", inner), CodeInternal, "partition 3")
		assert.True(t, HasCode(outer, CodeAmbiguousTopology))
		assert.True(t, Is(outer, CodeInternal))
		assert.False(t, HasCode(outer, CodeUnmappable))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}
