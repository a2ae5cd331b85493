package sequencer

import (
	"math"
	"sort"
	"sync"

	"github.com/cbegin/scoresync-go/internal/midigen"
)

// Target is the synthesizer the sequencer drives.
type Target interface {
	NoteOn(channel, key, velocity int)
	NoteOff(channel, key int)
	ProgramChange(channel, program int)
	AllNotesOff()
	Render(left, right []float32)
}

// EventKind identifies sequencer lifecycle events.
type EventKind int

const (
	EventPlaybackEnded EventKind = iota
)

type Options struct {
	OnEvent func(EventKind)
	// BlockFrames is how many frames are rendered between event dispatches
	// (0 = 64).
	BlockFrames int
}

const (
	clickKeyAccent = 76
	clickKey       = 77
)

// Sequencer schedules a midigen.Sequence onto a Target in sample time.
// It is safe for concurrent use: the audio thread calls Process while the
// engine seeks, pauses and changes speed.
type Sequencer struct {
	mu         sync.Mutex
	seq        *midigen.Sequence
	target     Target
	sampleRate int
	block      int
	onEvent    func(EventKind)

	speed     float64
	tick      float64
	next      int
	nextClick int
	lastClick int
	metronome float64
	running   bool
	ended     bool

	left, right []float32
}

func New(seq *midigen.Sequence, target Target, sampleRate int) *Sequencer {
	return NewWithOptions(seq, target, sampleRate, Options{})
}

func NewWithOptions(seq *midigen.Sequence, target Target, sampleRate int, opts Options) *Sequencer {
	block := opts.BlockFrames
	if block <= 0 {
		block = 64
	}
	if seq == nil {
		seq = &midigen.Sequence{}
	}
	return &Sequencer{
		seq:        seq,
		target:     target,
		sampleRate: sampleRate,
		block:      block,
		onEvent:    opts.OnEvent,
		speed:      1,
		lastClick:  -1,
		left:       make([]float32, block),
		right:      make([]float32, block),
	}
}

// Process renders interleaved stereo frames. While stopped it writes silence.
func (s *Sequencer) Process(dst []float32) {
	s.mu.Lock()
	frames := len(dst) / 2
	endedNow := false
	for f := 0; f < frames; {
		n := s.block
		if frames-f < n {
			n = frames - f
		}
		if !s.running {
			for i := f * 2; i < frames*2; i++ {
				dst[i] = 0
			}
			break
		}
		s.dispatch()
		l, r := s.left[:n], s.right[:n]
		for i := range l {
			l[i], r[i] = 0, 0
		}
		s.target.Render(l, r)
		for i := 0; i < n; i++ {
			dst[(f+i)*2] = l[i]
			dst[(f+i)*2+1] = r[i]
		}
		s.tick += float64(n) * s.ticksPerSample()
		f += n
		if s.tick >= float64(s.seq.EndTick) {
			s.tick = float64(s.seq.EndTick)
			s.dispatch()
			s.target.AllNotesOff()
			s.running = false
			s.ended = true
			endedNow = true
		}
	}
	cb := s.onEvent
	s.mu.Unlock()
	if endedNow && cb != nil {
		cb(EventPlaybackEnded)
	}
}

func (s *Sequencer) ticksPerSample() float64 {
	bpm := s.seq.Timing.TempoAt(int(s.tick))
	res := float64(s.seq.Timing.Resolution)
	return bpm * res / (60 * float64(s.sampleRate)) * s.speed
}

func (s *Sequencer) dispatch() {
	now := int(s.tick)
	for s.next < len(s.seq.Events) && s.seq.Events[s.next].Tick <= now {
		s.apply(s.seq.Events[s.next])
		s.next++
	}
	for s.nextClick < len(s.seq.Clicks) && s.seq.Clicks[s.nextClick].Tick <= now {
		c := s.seq.Clicks[s.nextClick]
		s.nextClick++
		if s.metronome <= 0 {
			continue
		}
		if s.lastClick >= 0 {
			s.target.NoteOff(midigen.MetronomeChannel, s.lastClick)
		}
		key := clickKey
		if c.Accent {
			key = clickKeyAccent
		}
		s.target.NoteOn(midigen.MetronomeChannel, key, int(math.Round(127*s.metronome)))
		s.lastClick = key
	}
}

func (s *Sequencer) apply(ev midigen.Event) {
	switch ev.Kind {
	case midigen.NoteOn:
		s.target.NoteOn(ev.Channel, ev.Key, ev.Velocity)
	case midigen.NoteOff:
		s.target.NoteOff(ev.Channel, ev.Key)
	case midigen.ProgramChange:
		s.target.ProgramChange(ev.Channel, ev.Program)
	}
}

// Start resumes advancing from the current position. After the end was
// reached it starts again from the top.
func (s *Sequencer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.seekLocked(0)
	}
	s.running = true
}

// Stop halts advancing and silences sounding notes; the position is kept.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.target.AllNotesOff()
}

func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sequencer) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Seek moves to a score-time position in seconds.
func (s *Sequencer) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekLocked(s.seq.Timing.TickAtSeconds(seconds))
}

func (s *Sequencer) seekLocked(tick float64) {
	if end := float64(s.seq.EndTick); tick > end {
		tick = end
	}
	if tick < 0 {
		tick = 0
	}
	s.target.AllNotesOff()
	s.tick = tick
	s.ended = false
	events := s.seq.Events
	s.next = sort.Search(len(events), func(i int) bool { return float64(events[i].Tick) >= tick })
	// programs set before the new position still apply
	for _, ev := range events[:s.next] {
		if ev.Kind == midigen.ProgramChange {
			s.apply(ev)
		}
	}
	clicks := s.seq.Clicks
	s.nextClick = sort.Search(len(clicks), func(i int) bool { return float64(clicks[i].Tick) >= tick })
	s.lastClick = -1
}

// Position is the score-time position in seconds.
func (s *Sequencer) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.Timing.SecondsAtTick(s.tick)
}

func (s *Sequencer) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.tick)
}

func (s *Sequencer) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.Duration()
}

// SetSpeed scales how fast score time advances. Non-positive or
// non-finite ratios are ignored.
func (s *Sequencer) SetSpeed(ratio float64) {
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return
	}
	s.mu.Lock()
	s.speed = ratio
	s.mu.Unlock()
}

func (s *Sequencer) SetMetronome(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metronome = math.Max(0, math.Min(1, volume))
	if s.metronome == 0 && s.lastClick >= 0 {
		s.target.NoteOff(midigen.MetronomeChannel, s.lastClick)
		s.lastClick = -1
	}
}

// Sequence returns the sequence currently being played.
func (s *Sequencer) Sequence() *midigen.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Replace swaps in a regenerated sequence at the current position.
func (s *Sequencer) Replace(seq *midigen.Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = seq
	s.seekLocked(s.tick)
}
