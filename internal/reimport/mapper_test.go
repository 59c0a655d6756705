package reimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basenet/internal/network/models"
	dErrors "basenet/pkg/domain-errors"
)

func TestPropertyMapper(t *testing.T) {
	m := DefaultPropertyMapper()

	t.Run("maps provided dimensions", func(t *testing.T) {
		got, err := m.Map(RawFeature{ID: "f", Properties: map[string]any{
			"responsibility": "Amt 5",
			"direction":      "beide",
			"speed":          50.0,
			"way_form":       "radweg",
			"street_name":    " Lindenallee ",
			"surface":        nil,
		}})
		require.NoError(t, err)
		assert.Equal(t, models.Organisation("Amt 5"), got.Responsibility)
		assert.Equal(t, models.DirectionBoth, got.Direction)
		assert.Equal(t, models.Speed("50"), got.Speed)
		assert.Equal(t, models.WayFormCycleTrack, got.WayForm)
		assert.Equal(t, "Lindenallee", got.Scalars.StreetName)
		assert.Empty(t, got.Scalars.Surface)
	})

	t.Run("missing keys stay unprovided", func(t *testing.T) {
		got, err := m.Map(RawFeature{ID: "f"})
		require.NoError(t, err)
		assert.Equal(t, models.MappedAttributes{}, got)
	})

	tests := []struct {
		name  string
		props map[string]any
	}{
		{"unknown direction", map[string]any{"direction": "SIDEWAYS"}},
		{"speed out of range", map[string]any{"speed": 500}},
		{"speed not a number", map[string]any{"speed": "fast"}},
		{"unknown way form", map[string]any{"way_form": "AUTOBAHN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Map(RawFeature{ID: "f", Properties: tt.props})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnmappable))
		})
	}
}
