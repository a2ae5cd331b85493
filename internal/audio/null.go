package audio

import (
	"sync"
	"time"
)

// NullOutput consumes its source in real time without a sound device.
// Headless sessions and the server use it so playback still advances.
type NullOutput struct {
	mu      sync.Mutex
	src     SampleSource
	rate    int
	period  time.Duration
	playing bool
	stop    chan struct{}
	done    chan struct{}
}

func NewNullOutput(sampleRate int, src SampleSource) (Output, error) {
	return &NullOutput{src: src, rate: sampleRate, period: 10 * time.Millisecond}, nil
}

func (o *NullOutput) Play() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playing {
		return
	}
	o.playing = true
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.loop(o.stop, o.done)
}

func (o *NullOutput) loop(stop, done chan struct{}) {
	defer close(done)
	frames := int(float64(o.rate) * o.period.Seconds())
	buf := make([]float32, frames*2)
	t := time.NewTicker(o.period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			for i := range buf {
				buf[i] = 0
			}
			o.src.Process(buf)
		}
	}
}

func (o *NullOutput) Pause() {
	o.mu.Lock()
	if !o.playing {
		o.mu.Unlock()
		return
	}
	o.playing = false
	stop, done := o.stop, o.done
	o.mu.Unlock()
	close(stop)
	<-done
}

func (o *NullOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

func (o *NullOutput) Close() error {
	o.Pause()
	return nil
}
