package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerExpiry(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	now := time.Unix(1000, 0)
	tracker.now = func() time.Time { return now }
	ctx := context.Background()

	online, err := tracker.Online(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, tracker.Touch(ctx, 7))
	online, err = tracker.Online(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)

	// A fresh touch extends the deadline.
	now = now.Add(50 * time.Second)
	require.NoError(t, tracker.Touch(ctx, 7))
	now = now.Add(50 * time.Second)
	online, err = tracker.Online(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)

	now = now.Add(time.Minute)
	online, err = tracker.Online(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestMemoryTrackerForget(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.Touch(ctx, 3))
	require.NoError(t, tracker.Forget(ctx, 3))
	online, err := tracker.Online(ctx, 3)
	require.NoError(t, err)
	assert.False(t, online)
}
