package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterAllowsWithinLimit(t *testing.T) {
	m := NewMemoryLimiter()
	limits := Limits{PerMinute: 5, PerHour: 100, PerDay: 1000}

	for i := 0; i < 5; i++ {
		result, err := m.Check("key-1", limits)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}

func TestMemoryLimiterRejectsOverLimit(t *testing.T) {
	m := NewMemoryLimiter()
	limits := Limits{PerMinute: 2, PerHour: 100, PerDay: 1000}

	_, err := m.Check("key-2", limits)
	require.NoError(t, err)
	_, err = m.Check("key-2", limits)
	require.NoError(t, err)

	result, err := m.Check("key-2", limits)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, WindowMinute, result.Violated)
}

func TestMemoryLimiterTightestWindowWins(t *testing.T) {
	m := NewMemoryLimiter()
	limits := Limits{PerMinute: 1000, PerHour: 1, PerDay: 1000}

	_, err := m.Check("key-3", limits)
	require.NoError(t, err)
	result, err := m.Check("key-3", limits)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, WindowHour, result.Violated)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter()
	limits := Limits{PerMinute: 1, PerHour: 100, PerDay: 1000}

	_, err := m.Check("key-a", limits)
	require.NoError(t, err)
	result, err := m.Check("key-b", limits)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRingSweepExpiresOldBuckets(t *testing.T) {
	r := newRing(time.Second, 3)
	base := time.Unix(1000, 0)

	total := r.add(base)
	assert.Equal(t, int64(1), total)

	total = r.add(base.Add(5 * time.Second))
	assert.Equal(t, int64(1), total, "old bucket should have expired out of the 3-second window")
}
