package maths

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorCreateRelease(t *testing.T) {
	a := NewAllocator(0)
	b, err := a.Create(4, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, b.Rows())
	assert.Equal(t, 3, b.Cols())
	assert.NotNil(t, b.Dense())
	assert.Equal(t, int64(96), a.InUse())
	assert.Equal(t, 1, a.Live())

	c, err := a.Create(2, 2)
	require.NoError(t, err)
	assert.NotEqual(t, b.ID(), c.ID())

	require.NoError(t, a.Release(b))
	assert.Equal(t, int64(32), a.InUse())
	assert.Equal(t, int64(128), a.Peak())
	assert.ErrorIs(t, a.Release(b), ErrReleased)
}

func TestAllocatorEmptyBlock(t *testing.T) {
	a := NewAllocator(0)
	b, err := a.Create(5, 0)
	require.NoError(t, err)
	assert.Nil(t, b.Dense())
	assert.Nil(t, b.View(0, 5, 0, 0))
	_, err = a.Create(-1, 2)
	assert.ErrorIs(t, err, ErrAllocation)
}

func TestAllocatorLimit(t *testing.T) {
	a := NewAllocator(100)
	_, err := a.Create(3, 4)
	require.NoError(t, err)
	_, err = a.Create(2, 1)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Equal(t, 1, a.Live())
}

func TestAllocatorAdopt(t *testing.T) {
	src := NewAllocator(0)
	dst := NewAllocator(0)
	b, err := src.Create(2, 2)
	require.NoError(t, err)
	require.NoError(t, dst.Adopt(b))
	require.NoError(t, dst.Adopt(b))
	assert.Equal(t, int64(32), dst.InUse())
	require.NoError(t, dst.Release(b))
}
