package engine

import (
	"sync"
	"time"
)

// DefaultTickInterval is how often a playing engine reports its position.
const DefaultTickInterval = 30 * time.Millisecond

// Ticker calls fn periodically between Start and Stop.
type Ticker struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	stop     chan struct{}
	done     chan struct{}
}

func NewTicker(interval time.Duration, fn func()) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{interval: interval, fn: fn}
}

func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
}

func (t *Ticker) run(stop, done chan struct{}) {
	defer close(done)
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
			t.fn()
		}
	}
}

// Stop halts the ticker and waits for a running fn to return. It must not
// be called from fn.
func (t *Ticker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
