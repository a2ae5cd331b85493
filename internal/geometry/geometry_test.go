package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyBeforeRender(t *testing.T) {
	c := NewCache()
	assert.NotNil(t, c.All())
	assert.Empty(t, c.All())
	_, ok := c.Lookup(0)
	assert.False(t, ok)
}

func TestRebuildDedupesFirstWinsAndSorts(t *testing.T) {
	c := NewCache()
	c.Rebuild([]Bounds{
		{Index: 2, X: 200, Width: 100, Height: 120},
		{Index: 0, X: 0, Width: 100, Height: 120},
		{Index: 0, X: 0, Y: 60, Width: 100, Height: 60},
		{Index: 1, X: 100, Width: 100, Height: 120},
		{Index: 2, X: 200, Y: 60, Width: 100, Height: 60},
		{Index: -1, X: 5},
	})
	all := c.All()
	require.Len(t, all, 3)
	for i, b := range all {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, 120.0, b.Height, "first fragment kept for %d", i)
	}
	b, ok := c.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, 200.0, b.X)
}

func TestRebuildReplacesPreviousLayout(t *testing.T) {
	c := NewCache()
	c.Rebuild([]Bounds{{Index: 0}, {Index: 1}, {Index: 2}})
	c.Rebuild([]Bounds{{Index: 0, Width: 50}})
	assert.Equal(t, 1, c.Len())
	_, ok := c.Lookup(2)
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
