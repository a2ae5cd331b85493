// Package midigen turns a score into scheduled channel events, encodes and
// decodes them as Standard MIDI Files, and rewrites program changes inside
// an existing file when the practice instrument changes.
package midigen

import (
	"sort"

	"github.com/cbegin/scoresync-go/internal/score"
)

type Kind int

const (
	NoteOff Kind = iota + 1
	ProgramChange
	NoteOn
)

// Event is one channel message at an absolute tick.
type Event struct {
	Tick     int
	Kind     Kind
	Channel  int
	Key      int
	Velocity int
	Program  int
}

// Sequence is a playable, tick-sorted event list with its tempo map.
type Sequence struct {
	Timing  score.Timing
	Events  []Event
	Clicks  []Click
	EndTick int
}

// Click is one metronome beat. The first beat of each bar is accented.
type Click struct {
	Tick   int
	Accent bool
}

// Duration is the length of the sequence in seconds at its own tempo map.
func (q *Sequence) Duration() float64 {
	return q.Timing.SecondsAt(q.EndTick)
}

const (
	defaultVelocity = 96
	// MetronomeChannel is reserved for click events.
	MetronomeChannel = 9
)

// FromScore builds the playable sequence of every track. Tied notes sound
// once for their combined length.
func FromScore(s *score.Score) *Sequence {
	seq := &Sequence{Timing: s.Timing(), EndTick: s.EndTick(), Clicks: Clicks(s)}
	for _, tr := range s.Tracks {
		ch := trackChannel(tr)
		seq.Events = append(seq.Events, Event{Tick: 0, Kind: ProgramChange, Channel: ch, Program: tr.Program})

		var beats []*score.Beat
		tr.Beats(func(_ *score.Bar, b *score.Beat) { beats = append(beats, b) })
		sort.SliceStable(beats, func(i, j int) bool { return beats[i].StartTick < beats[j].StartTick })

		open := map[int]int{} // key -> end tick
		closeNote := func(key int) {
			seq.Events = append(seq.Events, Event{Tick: open[key], Kind: NoteOff, Channel: ch, Key: key})
			delete(open, key)
		}
		for _, b := range beats {
			for _, a := range b.Automations {
				if a.Type == score.AutomationInstrument {
					seq.Events = append(seq.Events, Event{Tick: b.StartTick, Kind: ProgramChange, Channel: ch, Program: int(a.Value)})
				}
			}
			end := b.StartTick + b.Duration
			for _, n := range b.Notes {
				if n.TieDestination {
					if _, ok := open[n.Key]; ok {
						open[n.Key] = end
						continue
					}
				}
				if _, ok := open[n.Key]; ok {
					open[n.Key] = min(open[n.Key], b.StartTick)
					closeNote(n.Key)
				}
				seq.Events = append(seq.Events, Event{Tick: b.StartTick, Kind: NoteOn, Channel: ch, Key: n.Key, Velocity: defaultVelocity})
				open[n.Key] = end
			}
		}
		keys := make([]int, 0, len(open))
		for k := range open {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			closeNote(k)
		}
	}
	SortEvents(seq.Events)
	for _, ev := range seq.Events {
		if ev.Tick > seq.EndTick {
			seq.EndTick = ev.Tick
		}
	}
	return seq
}

// Clicks lays one click on every beat of every master bar.
func Clicks(s *score.Score) []Click {
	var out []Click
	for _, mb := range s.MasterBars {
		step := mb.BeatTicks(s.Resolution)
		for t := 0; t < mb.Length; t += step {
			out = append(out, Click{Tick: mb.StartTick + t, Accent: t == 0})
		}
	}
	return out
}

// SortEvents orders by tick; at equal ticks note-offs go first, then
// program changes, then note-ons.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Tick != events[j].Tick {
			return events[i].Tick < events[j].Tick
		}
		return events[i].Kind < events[j].Kind
	})
}

func trackChannel(tr *score.Track) int {
	ch := tr.Channel % 16
	if ch < 0 {
		ch = 0
	}
	if ch == MetronomeChannel {
		ch = MetronomeChannel + 1
	}
	return ch
}

// SetProgram rewrites every program change of the sequence in place.
func (q *Sequence) SetProgram(program int) int {
	n := 0
	for i := range q.Events {
		if q.Events[i].Kind == ProgramChange && q.Events[i].Channel != MetronomeChannel {
			q.Events[i].Program = program
			n++
		}
	}
	return n
}
