// Package viewer is the view model of the practice screen: load phases,
// placeholder text, the active-measure highlight, auto-scroll of the
// collapsed preview and the enabled state of every transport control.
// It holds no engine and does no drawing.
package viewer

import (
	"fmt"
	"math"

	"github.com/cbegin/scoresync-go/internal/geometry"
	"github.com/cbegin/scoresync-go/internal/mathx"
	"github.com/cbegin/scoresync-go/internal/tracker"
	"github.com/cbegin/scoresync-go/internal/transport"
)

type Phase int

const (
	Idle Phase = iota
	Loading
	Ready
	Failed
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

const (
	MinTempo = 30
	MaxTempo = 300
)

type Settings struct {
	CollapsedHeight float64
	ScrollMargin    float64
	ScrollEpsilon   float64
}

func DefaultSettings() Settings {
	return Settings{CollapsedHeight: 320, ScrollMargin: 16, ScrollEpsilon: 2}
}

// Controls describes what the transport bar shows and allows.
type Controls struct {
	TransportEnabled  bool    `json:"transportEnabled"`
	InstrumentEnabled bool    `json:"instrumentEnabled"`
	SeekEnabled       bool    `json:"seekEnabled"`
	SeekValue         float64 `json:"seekValue"`
	SeekMax           float64 `json:"seekMax"`
	TempoValue        float64 `json:"tempo"`
	TempoMin          float64 `json:"tempoMin"`
	TempoMax          float64 `json:"tempoMax"`
}

// View is a snapshot for rendering or serving.
type View struct {
	Phase        string           `json:"phase"`
	PlayerReady  bool             `json:"playerReady"`
	Progress     int              `json:"progress"`
	Regenerating bool             `json:"regenerating"`
	Placeholder  string           `json:"placeholder,omitempty"`
	Error        string           `json:"error,omitempty"`
	Measure      int              `json:"measure"`
	Highlight    *geometry.Bounds `json:"highlight,omitempty"`
	Collapsed    bool             `json:"collapsed"`
	ScrollX      float64          `json:"scrollX"`
	ScrollY      float64          `json:"scrollY"`
	ViewportW    float64          `json:"viewportWidth"`
	ViewportH    float64          `json:"viewportHeight"`
	ContentW     float64          `json:"contentWidth"`
	ContentH     float64          `json:"contentHeight"`
	Controls     Controls         `json:"controls"`
	State        transport.State  `json:"state"`
}

type Viewer struct {
	settings Settings

	phase        Phase
	playerReady  bool
	progress     int
	regenerating bool
	engine       bool
	err          string

	tracker   *tracker.Tracker
	geom      *geometry.Cache
	highlight *geometry.Bounds

	collapsed          bool
	scrollX, scrollY   float64
	viewW, viewH       float64
	contentW, contentH float64

	originalTempo float64
	state         transport.State
}

func New(settings Settings) *Viewer {
	return &Viewer{
		settings:  settings,
		tracker:   tracker.New(nil),
		geom:      geometry.NewCache(),
		collapsed: true,
	}
}

// BeginLoad enters Loading and drops everything derived from the old score.
func (v *Viewer) BeginLoad() {
	v.phase = Loading
	v.playerReady = false
	v.progress = 0
	v.regenerating = false
	v.engine = false
	v.err = ""
	v.tracker.Reset(nil)
	v.geom.Clear()
	v.highlight = nil
	v.scrollX, v.scrollY = 0, 0
	v.contentW, v.contentH = 0, 0
	v.state = transport.State{}
}

// ScoreLoaded installs the measure tick table of the new score.
func (v *Viewer) ScoreLoaded(measureStarts []int, originalTempo float64) {
	v.phase = Ready
	v.engine = true
	v.tracker.Reset(measureStarts)
	v.originalTempo = originalTempo
}

func (v *Viewer) LoadFailed(msg string) {
	v.phase = Failed
	v.engine = false
	v.err = msg
}

// RenderFinished rebuilds the geometry cache from fresh layout fragments.
// The current highlight is re-derived from the new rectangles.
func (v *Viewer) RenderFinished(fragments []geometry.Bounds, contentW, contentH float64) {
	v.geom.Rebuild(fragments)
	v.contentW, v.contentH = contentW, contentH
	v.applyHighlight(v.tracker.Current())
}

func (v *Viewer) Progress(percent int) {
	v.progress = mathx.Clamp(percent, 0, 100)
}

func (v *Viewer) PlayerReady() {
	v.playerReady = true
	v.progress = 100
}

func (v *Viewer) SetRegenerating(on bool) { v.regenerating = on }

// SetError shows a dismissible message. Rendered content stays visible.
func (v *Viewer) SetError(msg string) { v.err = msg }

func (v *Viewer) DismissError() { v.err = "" }

func (v *Viewer) SetState(st transport.State) { v.state = st }

// Position feeds a playback tick. It returns the measure index and whether
// it changed; highlight and scroll only move on a change.
func (v *Viewer) Position(tick int) (int, bool) {
	idx, changed := v.tracker.Update(tick)
	if changed {
		v.applyHighlight(idx)
	}
	return idx, changed
}

func (v *Viewer) CurrentMeasure() int { return v.tracker.Current() }

func (v *Viewer) applyHighlight(idx int) {
	b, ok := v.geom.Lookup(idx)
	if !ok {
		v.highlight = nil
		return
	}
	v.highlight = &b
	if v.collapsed {
		v.scrollTo(b.X-v.settings.ScrollMargin, b.Y-v.settings.ScrollMargin)
	}
}

func (v *Viewer) scrollTo(x, y float64) {
	x = mathx.Clamp(x, 0, math.Max(0, v.contentW-v.viewW))
	y = mathx.Clamp(y, 0, math.Max(0, v.contentH-v.viewportHeight()))
	if math.Abs(x-v.scrollX) > v.settings.ScrollEpsilon {
		v.scrollX = x
	}
	if math.Abs(y-v.scrollY) > v.settings.ScrollEpsilon {
		v.scrollY = y
	}
}

// SetViewport records the visible size of the score area.
func (v *Viewer) SetViewport(w, h float64) {
	v.viewW, v.viewH = w, h
}

// SetCollapsed toggles the preview layout. Collapsing brings the active
// measure, or the start, into view; expanding shows the whole score.
func (v *Viewer) SetCollapsed(collapsed bool) {
	v.collapsed = collapsed
	if !collapsed {
		v.scrollX, v.scrollY = 0, 0
		return
	}
	if v.highlight != nil {
		v.scrollTo(v.highlight.X-v.settings.ScrollMargin, v.highlight.Y-v.settings.ScrollMargin)
		return
	}
	v.scrollX, v.scrollY = 0, 0
}

func (v *Viewer) Collapsed() bool { return v.collapsed }

// ScrollBy pans the expanded view, clamped to the content. The collapsed
// view follows the active measure and ignores it.
func (v *Viewer) ScrollBy(dx, dy float64) {
	if v.collapsed {
		return
	}
	v.scrollX = mathx.Clamp(v.scrollX+dx, 0, math.Max(0, v.contentW-v.viewW))
	v.scrollY = mathx.Clamp(v.scrollY+dy, 0, math.Max(0, v.contentH-v.viewportHeight()))
}

func (v *Viewer) viewportHeight() float64 {
	if v.collapsed {
		if v.viewH > 0 {
			return math.Min(v.settings.CollapsedHeight, v.viewH)
		}
		return v.settings.CollapsedHeight
	}
	if v.viewH > 0 {
		return v.viewH
	}
	return v.contentH
}

func (v *Viewer) Highlight() (geometry.Bounds, bool) {
	if v.highlight == nil {
		return geometry.Bounds{}, false
	}
	return *v.highlight, true
}

func (v *Viewer) Scroll() (float64, float64) { return v.scrollX, v.scrollY }

func (v *Viewer) MeasureBounds() []geometry.Bounds { return v.geom.All() }

// Placeholder is the message shown instead of, or over, the score.
func (v *Viewer) Placeholder() string {
	switch v.phase {
	case Idle:
		return "Select a score to practice."
	case Loading:
		return "Initializing..."
	case Failed:
		return "Could not load score: " + v.err
	}
	if !v.playerReady {
		return fmt.Sprintf("Loading sound samples %d%%", v.progress)
	}
	if v.regenerating {
		return "Regenerating audio..."
	}
	return ""
}

// TempoRange is the slider range for a score: half to triple the original
// tempo, within 30..300 BPM.
func TempoRange(original float64) (lo, hi float64) {
	if !mathx.Positive(original) {
		original = 120
	}
	return math.Max(MinTempo, 0.5*original), math.Min(MaxTempo, 3*original)
}

func (v *Viewer) Controls() Controls {
	ready := v.phase == Ready && v.engine
	c := Controls{
		TransportEnabled:  ready && v.playerReady && !v.regenerating,
		InstrumentEnabled: ready && !v.regenerating,
		SeekValue:         v.state.CurrentTime,
		SeekMax:           v.state.Duration,
		TempoValue:        v.state.Tempo,
	}
	if !(c.SeekMax > 0) {
		c.SeekMax = 1
	}
	c.SeekEnabled = ready && v.state.Duration > 0 && !v.regenerating
	c.TempoMin, c.TempoMax = TempoRange(v.originalTempo)
	return c
}

func (v *Viewer) Snapshot() View {
	out := View{
		Phase:        v.phase.String(),
		PlayerReady:  v.playerReady,
		Progress:     v.progress,
		Regenerating: v.regenerating,
		Placeholder:  v.Placeholder(),
		Error:        v.err,
		Measure:      v.tracker.Current(),
		Collapsed:    v.collapsed,
		ScrollX:      v.scrollX,
		ScrollY:      v.scrollY,
		ViewportW:    v.viewW,
		ViewportH:    v.viewportHeight(),
		ContentW:     v.contentW,
		ContentH:     v.contentH,
		Controls:     v.Controls(),
		State:        v.state,
	}
	if v.highlight != nil {
		h := *v.highlight
		out.Highlight = &h
	}
	return out
}

func (v *Viewer) Phase() Phase { return v.phase }
