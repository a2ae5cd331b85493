package score

import (
	"math"
	"sort"
)

// Timing maps ticks to seconds through a piecewise-constant tempo map.
type Timing struct {
	Resolution int
	// Tempos is sorted by tick and always starts at tick 0.
	Tempos []TempoChange
}

func NewTiming(resolution int, base float64, changes []TempoChange) Timing {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	if !(base > 0) || math.IsInf(base, 0) {
		base = DefaultTempo
	}
	out := make([]TempoChange, 0, len(changes)+1)
	for _, tc := range changes {
		if tc.BPM > 0 && !math.IsInf(tc.BPM, 0) {
			out = append(out, tc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	if len(out) == 0 || out[0].Tick > 0 {
		out = append([]TempoChange{{Tick: 0, BPM: base}}, out...)
	}
	return Timing{Resolution: resolution, Tempos: out}
}

func (t Timing) SecondsAt(tick int) float64 {
	return t.SecondsAtTick(float64(tick))
}

// SecondsAtTick accepts a fractional tick, as tracked by the sequencer.
func (t Timing) SecondsAtTick(tick float64) float64 {
	if !(tick > 0) {
		return 0
	}
	res := float64(t.Resolution)
	secs := 0.0
	for i, tc := range t.Tempos {
		end := tick
		if i+1 < len(t.Tempos) && float64(t.Tempos[i+1].Tick) < tick {
			end = float64(t.Tempos[i+1].Tick)
		}
		if end > float64(tc.Tick) {
			secs += (end - float64(tc.Tick)) / res * 60 / tc.BPM
		}
		if end == tick {
			break
		}
	}
	return secs
}

// TempoAt returns the BPM in effect at tick.
func (t Timing) TempoAt(tick int) float64 {
	bpm := DefaultTempo
	for _, tc := range t.Tempos {
		if tc.Tick > tick {
			break
		}
		bpm = tc.BPM
	}
	return bpm
}

// TickAt is the inverse of SecondsAt.
func (t Timing) TickAt(seconds float64) int {
	return int(t.TickAtSeconds(seconds))
}

func (t Timing) TickAtSeconds(seconds float64) float64 {
	if !(seconds > 0) {
		return 0
	}
	res := float64(t.Resolution)
	elapsed := 0.0
	for i, tc := range t.Tempos {
		if i+1 < len(t.Tempos) {
			seg := float64(t.Tempos[i+1].Tick-tc.Tick) / res * 60 / tc.BPM
			if elapsed+seg <= seconds {
				elapsed += seg
				continue
			}
		}
		return float64(tc.Tick) + (seconds-elapsed)*tc.BPM/60*res
	}
	return 0
}
