package engine

import (
	"sort"
	"sync"
)

// Hub is a listener registry. Emit may be called from any goroutine;
// listeners run synchronously on the emitting goroutine.
type Hub struct {
	mu     sync.Mutex
	nextID int
	ls     map[int]Listener
	closed bool
}

func (h *Hub) Subscribe(l Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || l == nil {
		return func() {}
	}
	if h.ls == nil {
		h.ls = map[int]Listener{}
	}
	id := h.nextID
	h.nextID++
	h.ls[id] = l
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.ls, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Emit(ev Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(h.ls))
	for id := range h.ls {
		ids = append(ids, id)
	}
	ls := make([]Listener, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		ls = append(ls, h.ls[id])
	}
	h.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// Close drops every listener; later emits are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.ls = nil
	h.mu.Unlock()
}
