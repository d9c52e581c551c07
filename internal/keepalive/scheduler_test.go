package keepalive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_NextOrdersByDeadline(t *testing.T) {
	s := New()
	now := time.Now()
	s.Push(1, now.Add(3*time.Second))
	s.Push(2, now.Add(1*time.Second))
	s.Push(3, now.Add(2*time.Second))

	id, _, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, int64(2), id)
}

func TestScheduler_PushReplacesExisting(t *testing.T) {
	s := New()
	now := time.Now()
	s.Push(1, now.Add(5*time.Second))
	s.Push(1, now.Add(1*time.Second))

	assert.Equal(t, 1, s.Len())
	id, when, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.WithinDuration(t, now.Add(1*time.Second), when, 50*time.Millisecond)
}

func TestScheduler_Remove(t *testing.T) {
	s := New()
	s.Push(1, time.Now())
	s.Remove(1)
	assert.Equal(t, 0, s.Len())
	_, _, ok := s.Next()
	assert.False(t, ok)
}

func TestScheduler_EmptyNext(t *testing.T) {
	s := New()
	_, _, ok := s.Next()
	assert.False(t, ok)
}
