package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "basenet/pkg/domain-errors"
)

func TestParseEdgeID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseEdgeID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects zero and negative", func(t *testing.T) {
		for _, in := range []string{"0", "-4"} {
			_, err := ParseEdgeID(in)
			require.Error(t, err, in)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		}
	})

	t.Run("accepts padded positive id", func(t *testing.T) {
		id, err := ParseEdgeID(" 42 ")
		require.NoError(t, err)
		assert.Equal(t, EdgeID(42), id)
		assert.Equal(t, "42", id.String())
	})
}

func TestParseFeatureID(t *testing.T) {
	t.Run("trims whitespace", func(t *testing.T) {
		id, err := ParseFeatureID("  way/123 ")
		require.NoError(t, err)
		assert.Equal(t, FeatureID("way/123"), id)
	})

	t.Run("rejects blank", func(t *testing.T) {
		_, err := ParseFeatureID("   ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects overlong ids", func(t *testing.T) {
		_, err := ParseFeatureID(strings.Repeat("x", 257))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// TestTypeDistinction documents that node and edge ids are not interchangeable.
func TestTypeDistinction(t *testing.T) {
	// var _ EdgeID = NodeID(1) // compile error
	assert.True(t, NodeID(0).IsZero())
	assert.False(t, EdgeID(7).IsZero())
}
