package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToBucket: true}, zerolog.Nop())

	now := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)
	require.True(t, s.nextTick(now).Equal(time.Date(2024, 1, 1, 10, 10, 0, 0, time.UTC)), "nextTick = %s", s.nextTick(now))

	onBoundary := time.Date(2024, 1, 1, 10, 10, 0, 0, time.UTC)
	require.True(t, s.nextTick(onBoundary).Equal(onBoundary.Add(5*time.Minute)),
		"a boundary instant should schedule the following bucket, got %s", s.nextTick(onBoundary))
	require.True(t, s.bucketStart(now).Equal(time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)), "bucketStart = %s", s.bucketStart(now))
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)
	require.True(t, s.nextTick(now).Equal(now.Add(time.Minute)), "nextTick = %s", s.nextTick(now))
	require.True(t, s.bucketStart(now).Equal(now), "bucketStart = %s", s.bucketStart(now))
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	require.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true, TickTimeout: time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, _ time.Time) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok, "tick context should carry the tick timeout")
			if ticks.Add(1) == 3 {
				cancel()
			}
			return errors.New("tick errors must not stop the loop")
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.GreaterOrEqual(t, ticks.Load(), int32(3))
}
