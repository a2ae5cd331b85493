// Package fretboard assigns string/fret positions to pitches for scores that
// carry no tablature information of their own.
package fretboard

import (
	"sort"

	"github.com/cbegin/scoresync-go/internal/score"
)

const MaxFret = 24

// Pos is a 1-based string number (1 = highest) and a fret.
type Pos struct {
	String int
	Fret   int
}

// Positions lists every playable position of key on the given tuning,
// lowest fret first, then highest string first.
func Positions(key int, tuning []int) []Pos {
	var out []Pos
	for i, open := range tuning {
		f := key - open
		if f >= 0 && f <= MaxFret {
			out = append(out, Pos{String: i + 1, Fret: f})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fret != out[j].Fret {
			return out[i].Fret < out[j].Fret
		}
		return out[i].String < out[j].String
	})
	return out
}

// Assign picks positions for a chord so no two notes share a string.
// Notes that already carry a position keep it. Unplayable notes are left at
// String 0.
func Assign(notes []*score.Note, tuning []int) {
	used := map[int]bool{}
	for _, n := range notes {
		if n.String > 0 {
			used[n.String] = true
		}
	}
	// Highest pitches take the highest strings first.
	pending := make([]*score.Note, 0, len(notes))
	for _, n := range notes {
		if n.String == 0 {
			pending = append(pending, n)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Key > pending[j].Key })
	for _, n := range pending {
		for _, p := range Positions(n.Key, tuning) {
			if used[p.String] {
				continue
			}
			n.String, n.Fret = p.String, p.Fret
			used[p.String] = true
			break
		}
	}
}

// AssignScore fills missing positions across every beat of every track.
func AssignScore(s *score.Score) {
	for _, tr := range s.Tracks {
		tuning := tr.Tuning
		if len(tuning) == 0 {
			tuning = score.StandardTuning
		}
		tr.Beats(func(_ *score.Bar, b *score.Beat) {
			Assign(b.Notes, tuning)
		})
	}
}
