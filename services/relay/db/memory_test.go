package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

var base = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func reading(offset time.Duration, temp float64) telemetry.Reading {
	return telemetry.Reading{
		Timestamp: base.Add(offset),
		DeviceID:  "st-1",
		Fields:    map[string]float64{"temp": temp},
	}
}

func TestMemoryQueryRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Inserted out of order on purpose.
	for _, off := range []int{3, 1, 4, 0, 2} {
		require.NoError(t, s.Append(ctx, reading(time.Duration(off)*time.Second, float64(off))))
	}

	got, err := s.QueryRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 4.0, got[0].Fields["temp"])
	assert.Equal(t, 3.0, got[1].Fields["temp"])
	assert.Equal(t, 2.0, got[2].Fields["temp"])
}

func TestMemoryQueryRecentTiesReverseInsertion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, reading(0, 1)))
	require.NoError(t, s.Append(ctx, reading(0, 2)))

	got, err := s.QueryRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Fields["temp"])
}

func TestMemoryQueryRecentInvalidLimit(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.QueryRecent(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidLimit)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := reading(0, 1)
	require.NoError(t, s.Append(ctx, r))
	r.Fields["temp"] = 99

	got, err := s.QueryRecent(ctx, 1)
	require.NoError(t, err)
	got[0].Fields["temp"] = 42

	again, err := s.QueryRecent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again[0].Fields["temp"])
}

func TestMemoryPurge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, reading(time.Duration(i)*time.Hour, float64(i))))
	}

	cut := base.Add(2 * time.Hour)
	n, err := s.CountOlderThan(ctx, &cut)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = s.CountOlderThan(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, 5, s.Len())

	removed, err := s.Purge(ctx, &cut)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
	assert.Equal(t, 3, s.Len())

	removed, err = s.Purge(ctx, &cut)
	require.NoError(t, err)
	assert.EqualValues(t, 0, removed)

	removed, err = s.Purge(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)
	assert.Equal(t, 0, s.Len())

	removed, err = s.Purge(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, removed)
}

func TestMemoryConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(ctx, reading(time.Duration(i)*time.Millisecond, float64(i))))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	require.ErrorIs(t, s.Append(ctx, reading(0, 1)), context.Canceled)
}
