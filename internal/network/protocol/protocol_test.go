package protocol

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	ctx := context.Background()

	t.Run("memory keeps order and filters by kind", func(t *testing.T) {
		m := NewMemory()
		m.Record(ctx, New(KindAmbiguousSplit, orb.Point{1, 2}, "two crossings"))
		m.Record(ctx, New(KindMergeCandidate, orb.Point{3, 4}, ""))
		m.Record(ctx, New(KindAmbiguousSplit, orb.Point{5, 6}, "three crossings"))

		require.Len(t, m.List(), 3)
		got := m.OfKind(KindAmbiguousSplit)
		require.Len(t, got, 2)
		assert.Equal(t, "three crossings", got[1].Detail)
	})

	t.Run("log writes structured fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
		a := New(KindNoEndpointMatch, orb.Point{10, 5}, "shared node moved")
		a.FeatureID = "way/42"
		l.Record(ctx, a)

		out := buf.String()
		assert.Contains(t, out, `"kind":"no-endpoint-match"`)
		assert.Contains(t, out, `"feature_id":"way/42"`)
	})

	t.Run("multi fans out", func(t *testing.T) {
		a, b := NewMemory(), NewMemory()
		Multi{a, b, Discard{}}.Record(ctx, New(KindUnmappable, orb.Point{}, "bad speed"))
		assert.Len(t, a.List(), 1)
		assert.Len(t, b.List(), 1)
	})
}
