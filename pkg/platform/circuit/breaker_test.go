package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New("source")
	assert.Equal(t, "source", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerTransitions(t *testing.T) {
	t.Run("opens after consecutive failures", func(t *testing.T) {
		b := New("source", WithFailureThreshold(3))
		for range 2 {
			open, change := b.RecordFailure()
			assert.False(t, open)
			assert.False(t, change.Opened)
		}
		open, change := b.RecordFailure()
		assert.True(t, open)
		assert.True(t, change.Opened)

		open, change = b.RecordFailure()
		assert.True(t, open)
		assert.False(t, change.Opened, "already open")
	})

	t.Run("success clears the failure streak", func(t *testing.T) {
		b := New("source", WithFailureThreshold(2))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		assert.False(t, b.IsOpen())
	})

	t.Run("closes after the success threshold", func(t *testing.T) {
		b := New("source", WithFailureThreshold(1), WithSuccessThreshold(2))
		b.RecordFailure()

		closed, change := b.RecordSuccess()
		assert.False(t, closed)
		assert.False(t, change.Closed)

		b.RecordFailure()
		closed, _ = b.RecordSuccess()
		assert.False(t, closed, "failure resets the success streak")

		closed, change = b.RecordSuccess()
		assert.True(t, closed)
		assert.True(t, change.Closed)
		assert.Equal(t, "closed", b.State().String())
	})

	t.Run("reset", func(t *testing.T) {
		b := New("source", WithFailureThreshold(1))
		b.RecordFailure()
		require.True(t, b.IsOpen())
		b.Reset()
		assert.False(t, b.IsOpen())
		assert.True(t, b.Allow())
	})
}

func TestBreakerAllowsOneTrialPerCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("source",
		WithFailureThreshold(1),
		WithCooldown(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	b.RecordFailure()

	assert.False(t, b.Allow())
	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "second trial in the same window")

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
}
