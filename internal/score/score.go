package score

// ApplyDisplayMode sets the notation-visibility flags of every staff.
// Layout depends on these flags, so it must run before the score is laid out.
func (s *Score) ApplyDisplayMode(mode DisplayMode) {
	for _, tr := range s.Tracks {
		for _, st := range tr.Staves {
			st.ShowTablature = mode != DisplayStaffOnly
			st.ShowStandardNotation = mode != DisplayTabOnly
		}
	}
}

// SetInstrument overwrites the program of every track and rewrites every
// embedded instrument-change automation so the new program survives playback.
// It returns how many automations were rewritten.
func (s *Score) SetInstrument(program int) int {
	rewritten := 0
	for _, tr := range s.Tracks {
		tr.Program = program
		for _, st := range tr.Staves {
			for _, bar := range st.Bars {
				for _, v := range bar.Voices {
					for _, b := range v.Beats {
						for i := range b.Automations {
							if b.Automations[i].Type == AutomationInstrument {
								b.Automations[i].Value = float64(program)
								rewritten++
							}
						}
					}
				}
			}
		}
	}
	return rewritten
}

// MeasureStartTicks returns one start tick per master bar. All tracks share
// this timeline.
func (s *Score) MeasureStartTicks() []int {
	out := make([]int, len(s.MasterBars))
	for i, mb := range s.MasterBars {
		out[i] = mb.StartTick
	}
	return out
}

func (s *Score) EndTick() int {
	if len(s.MasterBars) == 0 {
		return 0
	}
	last := s.MasterBars[len(s.MasterBars)-1]
	return last.StartTick + last.Length
}

// OriginalTempo is the tempo at tick 0.
func (s *Score) OriginalTempo() float64 {
	return s.Timing().Tempos[0].BPM
}

// Timing returns the score's normalized tick/seconds conversion table.
func (s *Score) Timing() Timing {
	return NewTiming(s.Resolution, s.Tempo, s.Tempos)
}

// SecondsAt converts a tick into seconds at the score's own tempo map.
func (s *Score) SecondsAt(tick int) float64 {
	return s.Timing().SecondsAt(tick)
}

func (s *Score) TickAt(seconds float64) int {
	return s.Timing().TickAt(seconds)
}

// Duration is the base duration in seconds at the original tempo map.
func (s *Score) Duration() float64 {
	return s.SecondsAt(s.EndTick())
}

// BeatTicks is the length of one metronome beat within the bar.
func (mb MasterBar) BeatTicks(resolution int) int {
	den := mb.Denominator
	if den <= 0 {
		den = 4
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return resolution * 4 / den
}

// Beats iterates every beat of every voice of every bar of the track.
func (t *Track) Beats(fn func(bar *Bar, b *Beat)) {
	for _, st := range t.Staves {
		for _, bar := range st.Bars {
			for _, v := range bar.Voices {
				for _, b := range v.Beats {
					fn(bar, b)
				}
			}
		}
	}
}
