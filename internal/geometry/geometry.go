// Package geometry caches the on-screen rectangle of every rendered measure.
package geometry

import "sort"

// Bounds is a measure rectangle in content coordinates, relative to the
// scrollable viewport's origin.
type Bounds struct {
	Index  int     `json:"index"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Cache holds one Bounds per measure index, sorted by index. It is rebuilt
// wholesale on every render and never patched.
type Cache struct {
	bounds []Bounds
	byIdx  map[int]int
}

func NewCache() *Cache {
	return &Cache{byIdx: map[int]int{}}
}

// Rebuild replaces the cache from raw layout fragments. When a measure
// appears in several fragments the first one wins.
func (c *Cache) Rebuild(fragments []Bounds) {
	seen := make(map[int]bool, len(fragments))
	out := make([]Bounds, 0, len(fragments))
	for _, f := range fragments {
		if f.Index < 0 || seen[f.Index] {
			continue
		}
		seen[f.Index] = true
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	c.bounds = out
	c.byIdx = make(map[int]int, len(out))
	for i, b := range out {
		c.byIdx[b.Index] = i
	}
}

// Clear empties the cache, as before the first render of a new score.
func (c *Cache) Clear() {
	c.bounds = nil
	c.byIdx = map[int]int{}
}

// All returns a copy of the cached bounds. Empty means no highlight is
// available yet.
func (c *Cache) All() []Bounds {
	out := make([]Bounds, len(c.bounds))
	copy(out, c.bounds)
	return out
}

func (c *Cache) Lookup(index int) (Bounds, bool) {
	i, ok := c.byIdx[index]
	if !ok {
		return Bounds{}, false
	}
	return c.bounds[i], true
}

func (c *Cache) Len() int { return len(c.bounds) }
