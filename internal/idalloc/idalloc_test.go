package idalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_AllocIsSequentialAndUnique(t *testing.T) {
	a := New(10)
	first := a.Alloc()
	second := a.Alloc()
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestAllocator_ReleaseAllowsReuse(t *testing.T) {
	a := New(2)
	id1 := a.Alloc()
	id2 := a.Alloc()
	require.NotEqual(t, id1, id2)

	a.Release(id1)
	id3 := a.Alloc()
	assert.Equal(t, id1, id3, "released id should be recycled once the space wraps")
}

func TestAllocator_WrapsToReleasedID(t *testing.T) {
	a := New(3)
	id1 := a.Alloc() // 1
	_ = a.Alloc()    // 2
	id3 := a.Alloc() // 3
	a.Release(id1)
	// Next Alloc wraps to 1, which is now free (id1 released).
	next := a.Alloc()
	assert.Equal(t, id1, next)
	assert.NotEqual(t, id3, next)
}

func TestAllocator_PanicsOnExhaustion(t *testing.T) {
	a := New(1)
	a.Alloc()
	assert.Panics(t, func() { a.Alloc() })
}
