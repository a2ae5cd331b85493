// Package layout flows the measures of a score into systems of fixed width
// and records what to draw for each of them. The result reports one or more
// rectangles per measure; the first one always spans the whole system height.
package layout

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cbegin/scoresync-go/internal/geometry"
	"github.com/cbegin/scoresync-go/internal/score"
)

// Canvas is anything a layout can be drawn onto.
type Canvas interface {
	Line(x1, y1, x2, y2 float64)
	Rect(x, y, w, h float64, fill bool)
	Circle(x, y, r float64, fill bool)
	Text(x, y float64, s string)
}

// Style holds the metrics of one rendering flavour.
type Style struct {
	Margin          float64
	StaffSpacing    float64 // distance between standard staff lines
	StringSpacing   float64 // distance between tablature lines
	BandGap         float64 // gap between the staff band and the tab band
	SystemGap       float64
	MinMeasureWidth float64
	TickWidth       float64 // horizontal pixels per quarter note
	Title           bool
}

// NotationStyle is used by the notation renderer.
var NotationStyle = Style{
	Margin:          16,
	StaffSpacing:    8,
	StringSpacing:   10,
	BandGap:         28,
	SystemGap:       40,
	MinMeasureWidth: 120,
	TickWidth:       36,
	Title:           true,
}

// TabStyle is used by the tablature renderer: wider strings, no title block.
var TabStyle = Style{
	Margin:          12,
	StaffSpacing:    8,
	StringSpacing:   14,
	BandGap:         24,
	SystemGap:       32,
	MinMeasureWidth: 100,
	TickWidth:       40,
}

const titleHeight = 36

type band struct {
	top    float64
	height float64
	tab    bool
	lines  int
}

type System struct {
	Y        float64
	Height   float64
	Measures []int
	bands    []band
}

// Fragment is one laid-out rectangle of a measure.
type Fragment = geometry.Bounds

type Layout struct {
	Width     float64
	Height    float64
	Systems   []System
	Fragments []Fragment
	title     string
	style     Style
	score     *score.Score
	measureX  map[int][2]float64
}

// Build lays s out for the given content width. Which bands appear is taken
// from the staff visibility flags of the first track.
func Build(s *score.Score, width float64, st Style) *Layout {
	l := &Layout{Width: width, style: st, score: s, measureX: map[int][2]float64{}}
	if s == nil || len(s.MasterBars) == 0 {
		return l
	}
	l.title = s.Title
	showStd, showTab, strings := visibility(s)
	res := float64(s.Resolution)
	if res <= 0 {
		res = score.DefaultResolution
	}

	y := st.Margin
	if st.Title && s.Title != "" {
		y += titleHeight
	}
	usable := math.Max(width-2*st.Margin, st.MinMeasureWidth)

	var sys *System
	x := 0.0
	for _, mb := range s.MasterBars {
		w := math.Max(st.MinMeasureWidth, float64(mb.Length)/res*st.TickWidth)
		if w > usable {
			w = usable
		}
		if sys == nil || x+w > usable+0.5 {
			if sys != nil {
				y += sys.Height + st.SystemGap
				l.Systems = append(l.Systems, *sys)
			}
			sys = newSystem(y, showStd, showTab, strings, st)
			x = 0
		}
		sys.Measures = append(sys.Measures, mb.Index)
		mx := st.Margin + x
		l.measureX[mb.Index] = [2]float64{mx, w}
		l.Fragments = append(l.Fragments, Fragment{Index: mb.Index, X: mx, Y: sys.Y, Width: w, Height: sys.Height})
		for _, b := range sys.bands {
			l.Fragments = append(l.Fragments, Fragment{Index: mb.Index, X: mx, Y: b.top, Width: w, Height: b.height})
		}
		x += w
	}
	l.Systems = append(l.Systems, *sys)
	l.Height = sys.Y + sys.Height + st.Margin
	return l
}

func visibility(s *score.Score) (std, tab bool, strings int) {
	strings = len(score.StandardTuning)
	if len(s.Tracks) == 0 {
		return true, true, strings
	}
	tr := s.Tracks[0]
	if n := len(tr.Tuning); n > 0 {
		strings = n
	}
	for _, st := range tr.Staves {
		std = std || st.ShowStandardNotation
		tab = tab || st.ShowTablature
	}
	if !std && !tab {
		std = true
	}
	return std, tab, strings
}

func newSystem(y float64, showStd, showTab bool, strings int, st Style) *System {
	sys := &System{Y: y}
	top := y
	if showStd {
		h := 4 * st.StaffSpacing
		// room for ledger lines above and below
		pad := 3 * st.StaffSpacing
		sys.bands = append(sys.bands, band{top: top + pad, height: h, lines: 5})
		top += h + 2*pad
	}
	if showTab {
		if showStd {
			top += st.BandGap
		}
		h := float64(strings-1) * st.StringSpacing
		sys.bands = append(sys.bands, band{top: top, height: h, tab: true, lines: strings})
		top += h
	}
	sys.Height = top - y
	return sys
}

// MeasureX returns the horizontal extent of a measure.
func (l *Layout) MeasureX(index int) (x, w float64, ok bool) {
	v, ok := l.measureX[index]
	return v[0], v[1], ok
}

// Draw paints the whole layout.
func (l *Layout) Draw(c Canvas) {
	if l.score == nil {
		return
	}
	st := l.style
	if st.Title && l.title != "" {
		c.Text(st.Margin, st.Margin+titleHeight/2, l.title)
	}
	for _, sys := range l.Systems {
		left := l.measureX[sys.Measures[0]][0]
		lastX, lastW := l.measureX[sys.Measures[len(sys.Measures)-1]][0], l.measureX[sys.Measures[len(sys.Measures)-1]][1]
		right := lastX + lastW
		for _, b := range sys.bands {
			spacing := st.StaffSpacing
			if b.tab {
				spacing = st.StringSpacing
				c.Text(left+2, b.top+b.height/2, "TAB")
			}
			for i := 0; i < b.lines; i++ {
				ly := b.top + float64(i)*spacing
				c.Line(left, ly, right, ly)
			}
		}
		for _, idx := range sys.Measures {
			mx, mw := l.measureX[idx][0], l.measureX[idx][1]
			for _, b := range sys.bands {
				c.Line(mx+mw, b.top, mx+mw, b.top+b.height)
			}
			c.Text(mx+2, sys.Y-4, strconv.Itoa(idx+1))
		}
	}
	l.drawNotes(c)
}

func (l *Layout) drawNotes(c Canvas) {
	s := l.score
	if len(s.Tracks) == 0 {
		return
	}
	sysOf := map[int]*System{}
	for i := range l.Systems {
		for _, idx := range l.Systems[i].Measures {
			sysOf[idx] = &l.Systems[i]
		}
	}
	bars := map[int]score.MasterBar{}
	for _, mb := range s.MasterBars {
		bars[mb.Index] = mb
	}
	st := l.style
	s.Tracks[0].Beats(func(bar *score.Bar, b *score.Beat) {
		sys := sysOf[bar.Index]
		mb, ok := bars[bar.Index]
		if sys == nil || !ok || mb.Length <= 0 {
			return
		}
		mx, mw := l.measureX[bar.Index][0], l.measureX[bar.Index][1]
		inset := 10.0
		x := mx + inset + float64(b.StartTick-mb.StartTick)/float64(mb.Length)*(mw-2*inset)
		for _, bd := range sys.bands {
			switch {
			case b.Rest && !bd.tab:
				c.Rect(x-3, bd.top+1.5*st.StaffSpacing, 6, st.StaffSpacing, true)
			case b.Rest:
			case bd.tab:
				for _, n := range b.Notes {
					if n.String < 1 || n.String > bd.lines {
						continue
					}
					ny := bd.top + float64(n.String-1)*st.StringSpacing
					c.Text(x-3, ny, fret(n))
				}
			default:
				for _, n := range b.Notes {
					l.drawHead(c, bd, x, n, b.Duration, s.Resolution)
				}
			}
		}
	})
}

func fret(n *score.Note) string {
	if n.TieDestination {
		return fmt.Sprintf("(%d)", n.Fret)
	}
	return strconv.Itoa(n.Fret)
}

var stepIndex = map[string]int{"C": 0, "D": 1, "E": 2, "F": 3, "G": 4, "A": 5, "B": 6}

// staffStep counts diatonic steps above the bottom treble line (E4).
func staffStep(n *score.Note) int {
	step, ok := stepIndex[n.Step]
	octave := n.Octave
	if !ok {
		// derive a spelling from the pitch, sharps only
		names := []int{0, 0, 1, 1, 2, 3, 3, 4, 4, 5, 5, 6}
		step = names[((n.Key%12)+12)%12]
		octave = n.Key/12 - 1
	}
	return octave*7 + step - (4*7 + 2)
}

func (l *Layout) drawHead(c Canvas, bd band, x float64, n *score.Note, duration, resolution int) {
	sp := l.style.StaffSpacing
	bottom := bd.top + bd.height
	pos := staffStep(n)
	y := bottom - float64(pos)*sp/2
	for p := -2; p >= pos; p -= 2 {
		ly := bottom - float64(p)*sp/2
		c.Line(x-sp, ly, x+sp, ly)
	}
	for p := 10; p <= pos; p += 2 {
		ly := bottom - float64(p)*sp/2
		c.Line(x-sp, ly, x+sp, ly)
	}
	filled := resolution <= 0 || duration < 2*resolution
	c.Circle(x, y, sp/2, filled)
	if duration < 4*resolution || resolution <= 0 {
		c.Line(x+sp/2, y, x+sp/2, y-3.5*sp)
	}
	if n.Alter > 0 {
		c.Text(x-2*sp, y, "#")
	} else if n.Alter < 0 {
		c.Text(x-2*sp, y, "b")
	}
}
