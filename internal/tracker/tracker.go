// Package tracker maps a playback tick onto the index of the measure being
// played and reports only boundary crossings.
package tracker

import "sort"

// None is the measure index when no position is known.
const None = -1

type Tracker struct {
	starts  []int
	current int
}

// New takes the measure start ticks of a freshly loaded score. The slice is
// copied and sorted.
func New(starts []int) *Tracker {
	t := &Tracker{current: None}
	t.Reset(starts)
	return t
}

// Reset installs a new tick table and forgets the current measure.
func (t *Tracker) Reset(starts []int) {
	t.starts = append(t.starts[:0:0], starts...)
	sort.Ints(t.starts)
	t.current = None
}

func (t *Tracker) Current() int { return t.current }

// Update computes the measure for tick. changed is true only when the index
// differs from the previous call.
func (t *Tracker) Update(tick int) (index int, changed bool) {
	index = Index(t.starts, tick)
	if index == t.current {
		return index, false
	}
	t.current = index
	return index, true
}

// Index returns the greatest i with starts[i] <= tick, or None when starts
// is empty or tick precedes the first entry.
func Index(starts []int, tick int) int {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > tick })
	return i - 1
}
