package midigen

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cbegin/scoresync-go/internal/score"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

var endOfTrack = []byte{0xFF, 0x2F}

type timedMessage struct {
	tick int
	msg  []byte
}

// Encode writes the score as a format 1 SMF: a conductor track with tempo
// and meter changes followed by one track per MIDI channel.
func Encode(s *score.Score) ([]byte, error) {
	seq := FromScore(s)
	timing := seq.Timing

	out := smf.New()
	out.TimeFormat = smf.MetricTicks(uint16(timing.Resolution))

	var conductor []timedMessage
	if s.Title != "" {
		conductor = append(conductor, timedMessage{0, smf.MetaTrackSequenceName(s.Title)})
	}
	for _, tc := range timing.Tempos {
		conductor = append(conductor, timedMessage{tc.Tick, smf.MetaTempo(tc.BPM)})
	}
	num, den := 0, 0
	for _, mb := range s.MasterBars {
		if mb.Numerator == num && mb.Denominator == den {
			continue
		}
		num, den = mb.Numerator, mb.Denominator
		if num > 0 && den > 0 {
			conductor = append(conductor, timedMessage{mb.StartTick, smf.MetaMeter(uint8(num), uint8(den))})
		}
	}
	sort.SliceStable(conductor, func(i, j int) bool { return conductor[i].tick < conductor[j].tick })
	if err := out.Add(buildTrack(conductor, seq.EndTick)); err != nil {
		return nil, err
	}

	byChannel := map[int][]timedMessage{}
	var channels []int
	for _, ev := range seq.Events {
		if _, ok := byChannel[ev.Channel]; !ok {
			channels = append(channels, ev.Channel)
		}
		byChannel[ev.Channel] = append(byChannel[ev.Channel], timedMessage{ev.Tick, channelMessage(ev)})
	}
	sort.Ints(channels)
	for _, ch := range channels {
		if err := out.Add(buildTrack(byChannel[ch], seq.EndTick)); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := out.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func channelMessage(ev Event) []byte {
	ch := uint8(ev.Channel)
	switch ev.Kind {
	case NoteOn:
		return midi.NoteOn(ch, uint8(ev.Key), uint8(ev.Velocity))
	case NoteOff:
		return midi.NoteOff(ch, uint8(ev.Key))
	default:
		return midi.ProgramChange(ch, uint8(ev.Program))
	}
}

func buildTrack(msgs []timedMessage, endTick int) smf.Track {
	var tr smf.Track
	last := 0
	for _, m := range msgs {
		tr.Add(uint32(m.tick-last), m.msg)
		last = m.tick
	}
	tail := 0
	if endTick > last {
		tail = endTick - last
	}
	tr.Close(uint32(tail))
	return tr
}

// Decode reads an SMF into a playable sequence. When resolution is positive
// every tick is rescaled to that many ticks per quarter, so positions line
// up with the score the file was derived from.
func Decode(data []byte, resolution int) (seq *Sequence, err error) {
	// smf may panic on malformed input
	defer func() {
		if r := recover(); r != nil {
			seq, err = nil, fmt.Errorf("midi file is malformed: %v", r)
		}
	}()
	sm, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse midi file: %w", err)
	}
	ticks, ok := sm.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, errors.New("midi files with SMPTE time format are not supported")
	}
	var tempos []score.TempoChange
	seq = &Sequence{}
	for _, tr := range sm.Tracks {
		abs := 0
		for _, ev := range tr {
			abs += int(ev.Delta)
			if abs > seq.EndTick {
				seq.EndTick = abs
			}
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) {
				tempos = append(tempos, score.TempoChange{Tick: abs, BPM: bpm})
				continue
			}
			var ch, key, vel, prog uint8
			msg := midi.Message(ev.Message)
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				seq.Events = append(seq.Events, Event{Tick: abs, Kind: NoteOn, Channel: int(ch), Key: int(key), Velocity: int(vel)})
			case msg.GetNoteEnd(&ch, &key):
				seq.Events = append(seq.Events, Event{Tick: abs, Kind: NoteOff, Channel: int(ch), Key: int(key)})
			case msg.GetProgramChange(&ch, &prog):
				seq.Events = append(seq.Events, Event{Tick: abs, Kind: ProgramChange, Channel: int(ch), Program: int(prog)})
			}
		}
	}
	seq.Timing = score.NewTiming(int(ticks.Resolution()), score.DefaultTempo, tempos)
	if resolution > 0 && resolution != seq.Timing.Resolution {
		seq.rescale(resolution)
	}
	SortEvents(seq.Events)
	return seq, nil
}

func (q *Sequence) rescale(resolution int) {
	from := q.Timing.Resolution
	at := func(tick int) int {
		return int(math.Round(float64(tick) * float64(resolution) / float64(from)))
	}
	for i := range q.Events {
		q.Events[i].Tick = at(q.Events[i].Tick)
	}
	for i := range q.Clicks {
		q.Clicks[i].Tick = at(q.Clicks[i].Tick)
	}
	tempos := make([]score.TempoChange, len(q.Timing.Tempos))
	for i, tc := range q.Timing.Tempos {
		tempos[i] = score.TempoChange{Tick: at(tc.Tick), BPM: tc.BPM}
	}
	q.Timing = score.NewTiming(resolution, score.DefaultTempo, tempos)
	q.EndTick = at(q.EndTick)
}

// RewritePrograms replaces every program change in the file with program,
// keeping channels and timing. It returns the new file and the number of
// messages rewritten.
func RewritePrograms(data []byte, program int) (out []byte, rewritten int, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, rewritten, err = nil, 0, fmt.Errorf("midi file is malformed: %v", r)
		}
	}()
	sm, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("parse midi file: %w", err)
	}
	dst := smf.New()
	dst.TimeFormat = sm.TimeFormat
	for _, tr := range sm.Tracks {
		var nt smf.Track
		closed := false
		for _, ev := range tr {
			if bytes.HasPrefix(ev.Message, endOfTrack) {
				nt.Close(ev.Delta)
				closed = true
				break
			}
			var ch, prog uint8
			if midi.Message(ev.Message).GetProgramChange(&ch, &prog) && ch != MetronomeChannel {
				nt.Add(ev.Delta, midi.ProgramChange(ch, uint8(program)))
				rewritten++
				continue
			}
			nt.Add(ev.Delta, ev.Message)
		}
		if !closed {
			nt.Close(0)
		}
		if err := dst.Add(nt); err != nil {
			return nil, 0, err
		}
	}
	var buf bytes.Buffer
	if _, err := dst.WriteTo(&buf); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), rewritten, nil
}
