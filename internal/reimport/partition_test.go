package reimport

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "basenet/pkg/domain-errors"
)

func TestStrips(t *testing.T) {
	extent := orb.Bound{Min: orb.Point{0, -5}, Max: orb.Point{9, 5}}
	parts, err := Strips(extent, 3)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	for i, p := range parts {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, -5.0, p.Bound.Min.Y())
		assert.Equal(t, 5.0, p.Bound.Max.Y())
	}
	assert.Equal(t, 0.0, parts[0].Bound.Min.X())
	assert.InDelta(t, 3.0, parts[0].Bound.Max.X(), 1e-12)
	assert.Equal(t, parts[0].Bound.Max.X(), parts[1].Bound.Min.X())
	assert.Equal(t, 9.0, parts[2].Bound.Max.X())
}

func TestStripsRejectsBadInput(t *testing.T) {
	_, err := Strips(orb.Bound{Max: orb.Point{1, 1}}, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = Strips(orb.Bound{Min: orb.Point{1, 0}, Max: orb.Point{1, 1}}, 2)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestOwner(t *testing.T) {
	parts, err := Strips(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{9, 1}}, 3)
	require.NoError(t, err)

	tests := []struct {
		name string
		x    float64
		want int
	}{
		{"west edge", 0, 0},
		{"inside first", 2.9, 0},
		{"strip border belongs east", 3, 1},
		{"east edge", 9, 2},
		{"west of extent", -4, 0},
		{"east of extent", 42, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Owner(parts, orb.Point{tt.x, 0.5}))
		})
	}
	assert.Equal(t, -1, Owner(nil, orb.Point{}))
}
