package score

import (
	"fmt"
	"strings"
)

// DefaultResolution is the tick count of one quarter note.
const DefaultResolution = 960

const DefaultTempo = 120.0

type DisplayMode int

const (
	DisplayBoth DisplayMode = iota
	DisplayTabOnly
	DisplayStaffOnly
)

func (m DisplayMode) String() string {
	switch m {
	case DisplayTabOnly:
		return "tab"
	case DisplayStaffOnly:
		return "staff"
	default:
		return "both"
	}
}

func ParseDisplayMode(s string) (DisplayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return DisplayBoth, nil
	case "tab", "tabs", "tablature":
		return DisplayTabOnly, nil
	case "staff", "score", "notation":
		return DisplayStaffOnly, nil
	default:
		return DisplayBoth, fmt.Errorf("invalid display mode %q (expected tab|staff|both)", s)
	}
}

type AutomationType int

const (
	AutomationInstrument AutomationType = iota + 1
	AutomationTempo
)

type Automation struct {
	Type  AutomationType
	Value float64
}

type Note struct {
	Key    int // MIDI key number
	Step   string
	Alter  int
	Octave int
	// String is 1-based (1 = highest string); 0 means no tablature position.
	String         int
	Fret           int
	TieDestination bool
}

type Beat struct {
	StartTick   int
	Duration    int
	Rest        bool
	Notes       []*Note
	Automations []Automation
}

type Voice struct {
	Beats []*Beat
}

type Bar struct {
	Index     int
	StartTick int
	Voices    []*Voice
}

type Staff struct {
	ShowTablature        bool
	ShowStandardNotation bool
	Bars                 []*Bar
}

type Track struct {
	Name    string
	Program int
	Channel int
	// Tuning lists open-string keys from the highest string down.
	Tuning []int
	Staves []*Staff
}

type MasterBar struct {
	Index       int
	StartTick   int
	Length      int
	Numerator   int
	Denominator int
}

type TempoChange struct {
	Tick int
	BPM  float64
}

type Score struct {
	Title      string
	Resolution int
	Tempo      float64
	Tempos     []TempoChange
	MasterBars []MasterBar
	Tracks     []*Track
}

// StandardTuning is E4 B3 G3 D3 A2 E2, highest string first.
var StandardTuning = []int{64, 59, 55, 50, 45, 40}
