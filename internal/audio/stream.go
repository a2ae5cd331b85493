// Package audio pulls interleaved stereo float32 frames from a sample source
// and hands them to an output device.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleSource fills dst with interleaved stereo frames.
type SampleSource interface {
	Process(dst []float32)
}

// Output is a started or paused sink for one SampleSource.
type Output interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

// OutputFactory opens an Output for a source at the given sample rate.
type OutputFactory func(sampleRate int, src SampleSource) (Output, error)

// StreamReader adapts a SampleSource to the byte stream ebiten reads:
// 8 bytes per stereo frame, little-endian float32.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
	closed bool
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.EOF
	}
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.source.Process(r.buf)
	for i, v := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

var (
	contextOnce sync.Once
	audioCtx    *ebitaudio.Context
	contextRate int
)

// sharedContext returns the process-wide ebiten audio context. ebiten
// allows only one, so every player must agree on the sample rate.
func sharedContext(sampleRate int) (*ebitaudio.Context, error) {
	contextOnce.Do(func() {
		contextRate = sampleRate
		audioCtx = ebitaudio.NewContext(sampleRate)
	})
	if contextRate != sampleRate {
		return nil, fmt.Errorf("audio context already running at %d Hz (requested %d Hz)", contextRate, sampleRate)
	}
	return audioCtx, nil
}

// Player streams a source to the speakers through ebiten.
type Player struct {
	player *ebitaudio.Player
	reader *StreamReader
}

// NewPlayer is the OutputFactory for real audio.
func NewPlayer(sampleRate int, source SampleSource) (Output, error) {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Player{player: pl, reader: reader}, nil
}

func (p *Player) Play()           { p.player.Play() }
func (p *Player) Pause()          { p.player.Pause() }
func (p *Player) IsPlaying() bool { return p.player.IsPlaying() }

func (p *Player) Close() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return err
	}
	return p.reader.Close()
}
