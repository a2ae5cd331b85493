// Package backend holds what the notation and tablature engines share: the
// audio side that turns a note sequence and a synthesizer into a playing
// stream with position reports.
package backend

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/scoresync-go/internal/audio"
	"github.com/cbegin/scoresync-go/internal/engine"
	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/midigen"
	"github.com/cbegin/scoresync-go/internal/sequencer"
)

// Player owns the sequencer and audio output of one engine. Until Attach
// succeeds, play and seek requests are remembered and applied on attach.
type Player struct {
	hub    *engine.Hub
	log    logrus.FieldLogger
	rate   int
	output audio.OutputFactory

	mu        sync.Mutex
	out       audio.Output
	playing   bool
	wantPlay  bool
	closed    bool
	pos       float64
	speed     float64
	metronome float64
	pending   *midigen.Sequence

	seq    atomic.Pointer[sequencer.Sequencer]
	ticker *engine.Ticker
}

func NewPlayer(hub *engine.Hub, log logrus.FieldLogger, rate int, output audio.OutputFactory, tick time.Duration) *Player {
	if output == nil {
		output = audio.NewNullOutput
	}
	p := &Player{hub: hub, log: log, rate: rate, output: output, speed: 1}
	p.ticker = engine.NewTicker(tick, p.report)
	return p
}

// Attach starts the audio side for seq on target and reports PlayerReady.
// A sequence handed to Replace before attaching takes the place of seq.
func (p *Player) Attach(seq *midigen.Sequence, target sequencer.Target) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.pending != nil {
		seq, p.pending = p.pending, nil
	}
	s := sequencer.NewWithOptions(seq, target, p.rate, sequencer.Options{
		OnEvent: func(k sequencer.EventKind) {
			if k == sequencer.EventPlaybackEnded {
				go p.finished()
			}
		},
	})
	s.SetSpeed(p.speed)
	s.SetMetronome(p.metronome)
	s.Seek(p.pos)
	out, err := p.output(p.rate, s)
	if err != nil {
		p.mu.Unlock()
		err = errs.Playback(err, "open audio output", "The audio device could not be opened.")
		p.hub.Emit(engine.Event{Kind: engine.Error, Err: err})
		return err
	}
	p.out = out
	p.seq.Store(s)
	start := p.wantPlay
	p.mu.Unlock()

	p.hub.Emit(engine.Event{Kind: engine.AssetProgress, Percent: 100})
	p.hub.Emit(engine.Event{Kind: engine.PlayerReady})
	p.log.Info("player ready")
	if start {
		p.Play()
	}
	return nil
}

func (p *Player) Ready() bool { return p.seq.Load() != nil }

func (p *Player) finished() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	out := p.out
	p.mu.Unlock()
	p.ticker.Stop()
	out.Pause()
	p.report()
	p.hub.Emit(engine.Event{Kind: engine.StateChanged, Playing: false})
}

func (p *Player) report() {
	s := p.seq.Load()
	if s == nil {
		return
	}
	p.hub.Emit(engine.Event{
		Kind:          engine.PositionChanged,
		CurrentTimeMs: s.Position() * 1000,
		EndTimeMs:     s.Duration() * 1000,
		Tick:          s.Tick(),
	})
}

func (p *Player) Play() {
	p.mu.Lock()
	s := p.seq.Load()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if s == nil {
		p.wantPlay = true
		p.mu.Unlock()
		return
	}
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = true
	s.Start()
	p.out.Play()
	p.mu.Unlock()
	p.ticker.Start()
	p.hub.Emit(engine.Event{Kind: engine.StateChanged, Playing: true})
}

func (p *Player) Pause() {
	p.mu.Lock()
	p.wantPlay = false
	s := p.seq.Load()
	if !p.playing || s == nil {
		p.mu.Unlock()
		return
	}
	p.playing = false
	s.Stop()
	p.out.Pause()
	p.mu.Unlock()
	p.ticker.Stop()
	p.hub.Emit(engine.Event{Kind: engine.StateChanged, Playing: false})
}

func (p *Player) SetPosition(seconds float64) {
	p.mu.Lock()
	p.pos = seconds
	p.mu.Unlock()
	if s := p.seq.Load(); s != nil {
		s.Seek(seconds)
		p.report()
	}
}

func (p *Player) Position() float64 {
	if s := p.seq.Load(); s != nil {
		return s.Position()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *Player) SetSpeed(ratio float64) {
	p.mu.Lock()
	p.speed = ratio
	p.mu.Unlock()
	if s := p.seq.Load(); s != nil {
		s.SetSpeed(ratio)
	}
}

func (p *Player) SetMetronome(volume float64) {
	p.mu.Lock()
	p.metronome = volume
	p.mu.Unlock()
	if s := p.seq.Load(); s != nil {
		s.SetMetronome(volume)
	}
}

// Replace swaps a regenerated sequence in at the current position. Before
// Attach it is kept and used in place of the attached sequence.
func (p *Player) Replace(seq *midigen.Sequence) {
	p.mu.Lock()
	s := p.seq.Load()
	if s == nil {
		p.pending = seq
	}
	p.mu.Unlock()
	if s != nil {
		s.Replace(seq)
	}
}

// Close stops playback and releases the output. It is safe to call twice.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.playing = false
	out := p.out
	p.mu.Unlock()
	p.ticker.Stop()
	if out == nil {
		return nil
	}
	return out.Close()
}
