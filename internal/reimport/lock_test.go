package reimport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "basenet/pkg/domain-errors"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	lease, err := l.Acquire(ctx, "extent", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "extent", time.Minute)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = l.Acquire(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, "extent", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = l.Acquire(ctx, "extent", time.Minute)
	require.NoError(t, err, "expired lease is taken over")

	require.NoError(t, again.Release(ctx))
	_, err = l.Acquire(ctx, "extent", time.Minute)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "stale release keeps the new holder")
}
