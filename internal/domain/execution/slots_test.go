package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotsAcquireRelease(t *testing.T) {
	s := NewSlots(2, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))
	assert.Equal(t, SlotStats{Size: 2, Available: 0, InUse: 2}, s.Stats())

	assert.ErrorIs(t, s.Acquire(ctx), ErrAtCapacity)

	s.Release()
	require.NoError(t, s.Acquire(ctx))
}

func TestSlotsHonorContext(t *testing.T) {
	s := NewSlots(1, time.Minute)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Acquire(ctx), context.Canceled)
}

func TestSlotsClosed(t *testing.T) {
	s := NewSlots(1, time.Second)
	s.Close()

	assert.ErrorIs(t, s.Acquire(context.Background()), ErrSlotsClosed)
	assert.True(t, s.Stats().Closed)
}

func TestSlotsReleaseNeverOverfills(t *testing.T) {
	s := NewSlots(1, time.Second)
	s.Release()
	s.Release()
	assert.Equal(t, 1, s.Stats().Available)
}
