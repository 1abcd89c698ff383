package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeHalving(t *testing.T) {
	for size := 1; size <= 33; size++ {
		r := NewRange(7, size)
		l, rc := r.LChild(), r.RChild()
		assert.Equal(t, size, l.Size+rc.Size, "size %d", size)
		assert.Equal(t, r.Begin, l.Begin)
		assert.Equal(t, l.End(), rc.Begin)
		assert.Equal(t, r.End(), rc.End())
	}
}

func TestRangeHalvingToUnit(t *testing.T) {
	r := NewRange(0, 1)
	assert.Equal(t, Range{Begin: 0, Size: 0}, r.LChild())
	assert.Equal(t, Range{Begin: 0, Size: 1}, r.RChild())
	assert.True(t, r.LChild().Empty())
}

func TestRangeSplit(t *testing.T) {
	tags := NewRange(0, 8).Split(2)
	require.Len(t, tags, 4)
	assert.Equal(t, []Range{{0, 2}, {2, 2}, {4, 2}, {6, 2}}, tags)

	tags = NewRange(3, 5).Split(1)
	assert.Equal(t, []Range{{3, 2}, {5, 3}}, tags)
	assert.Equal(t, []Range{{3, 5}}, NewRange(3, 5).Split(0))
}

func TestRangeContains(t *testing.T) {
	r := NewRange(10, 5)
	assert.True(t, r.Contains(10))
	assert.True(t, r.Contains(14))
	assert.False(t, r.Contains(15))
	assert.False(t, r.Contains(9))
	assert.Equal(t, "[10,15)", r.String())
}
