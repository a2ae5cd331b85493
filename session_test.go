package scoresync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbegin/scoresync-go/internal/engine"
	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/layout"
	"github.com/cbegin/scoresync-go/internal/score"
	"github.com/cbegin/scoresync-go/internal/transport"
)

// fakeEngine records every call and lets the test drive events.
type fakeEngine struct {
	hub engine.Hub

	mu        sync.Mutex
	calls     []string
	score     *score.Score
	loadErr   error
	pos       float64
	speed     float64
	metronome float64
	program   int
	widths    []float64
	closed    bool
}

var _ engine.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) record(c string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Load(ctx context.Context, data []byte) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.score = &score.Score{
		Title:      string(data),
		Resolution: 960,
		Tempo:      120,
		MasterBars: []score.MasterBar{
			{Index: 0, StartTick: 0, Length: 3840, Numerator: 4, Denominator: 4},
			{Index: 1, StartTick: 3840, Length: 3840, Numerator: 4, Denominator: 4},
			{Index: 2, StartTick: 7680, Length: 3840, Numerator: 4, Denominator: 4},
		},
	}
	f.hub.Emit(engine.Event{Kind: engine.ScoreLoaded, Score: f.score})
	return nil
}

func (f *fakeEngine) Subscribe(l engine.Listener) func() { return f.hub.Subscribe(l) }
func (f *fakeEngine) Score() *score.Score                { return f.score }
func (f *fakeEngine) MeasureStartTicks() []int {
	if f.score == nil {
		return nil
	}
	return f.score.MeasureStartTicks()
}
func (f *fakeEngine) SetDisplayMode(score.DisplayMode) {}
func (f *fakeEngine) SetTrackInstrument(p int) {
	f.mu.Lock()
	f.program = p
	f.mu.Unlock()
	f.record("instrument")
}
func (f *fakeEngine) Layout(width float64) {
	f.mu.Lock()
	f.widths = append(f.widths, width)
	f.mu.Unlock()
}
func (f *fakeEngine) Widths() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.widths...)
}
func (f *fakeEngine) MeasureFragments() []layout.Fragment {
	return []layout.Fragment{
		{Index: 0, X: 16, Y: 16, Width: 300, Height: 100},
		{Index: 1, X: 316, Y: 16, Width: 300, Height: 100},
		{Index: 2, X: 16, Y: 900, Width: 300, Height: 100},
	}
}
func (f *fakeEngine) Draw(layout.Canvas)              {}
func (f *fakeEngine) ContentSize() (float64, float64) { return 640, 1200 }
func (f *fakeEngine) Play()                           { f.record("play") }
func (f *fakeEngine) Pause()                          { f.record("pause") }
func (f *fakeEngine) SetPosition(sec float64) {
	f.mu.Lock()
	f.pos = sec
	f.mu.Unlock()
	f.record("position")
}
func (f *fakeEngine) Position() float64     { return f.pos }
func (f *fakeEngine) BaseDuration() float64 { return 6 }
func (f *fakeEngine) SetSpeed(r float64) {
	f.mu.Lock()
	f.speed = r
	f.mu.Unlock()
}
func (f *fakeEngine) SetMetronomeVolume(v float64) {
	f.mu.Lock()
	f.metronome = v
	f.mu.Unlock()
}
func (f *fakeEngine) Regenerate() { f.record("regenerate") }
func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.hub.Close()
	return nil
}

func (f *fakeEngine) emit(ev engine.Event) { f.hub.Emit(ev) }

type timers struct {
	mu  sync.Mutex
	fns []func()
}

func (t *timers) after(d time.Duration, fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := len(t.fns)
	t.fns = append(t.fns, fn)
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.fns[i] = nil
	}
}

func (t *timers) fire() int {
	t.mu.Lock()
	fns := t.fns
	t.fns = nil
	t.mu.Unlock()
	n := 0
	for _, fn := range fns {
		if fn != nil {
			fn()
			n++
		}
	}
	return n
}

type harness struct {
	s       *Session
	engines []*fakeEngine
	timers  *timers
	events  []Event
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	h := &harness{timers: &timers{}}
	base := []Option{
		WithLogger(log),
		WithAfterFunc(h.timers.after),
		WithResizeDebounce(50 * time.Millisecond),
		WithEngineFactory(func(b Backend, cfg EngineConfig) (engine.Engine, error) {
			e := &fakeEngine{}
			h.engines = append(h.engines, e)
			return e, nil
		}),
	}
	h.s = New(append(base, opts...)...)
	h.s.Subscribe(func(ev Event) { h.events = append(h.events, ev) })
	t.Cleanup(func() { _ = h.s.Close() })
	return h
}

func (h *harness) load(t *testing.T, name string) *fakeEngine {
	t.Helper()
	require.NoError(t, h.s.LoadScoreData(context.Background(), []byte(name)))
	return h.engines[len(h.engines)-1]
}

func (h *harness) kinds() []EventKind {
	out := make([]EventKind, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Kind
	}
	return out
}

func TestLoadAttachesAndReportsReady(t *testing.T) {
	h := newHarness(t)
	eng := h.load(t, "first")

	v := h.s.View()
	assert.Equal(t, "ready", v.Phase)
	assert.Equal(t, "Loading sound samples 0%", v.Placeholder)
	assert.False(t, v.Controls.TransportEnabled)
	assert.Empty(t, h.s.MeasureBounds())

	eng.emit(engine.Event{Kind: engine.AssetProgress, Percent: 42})
	eng.emit(engine.Event{Kind: engine.RenderFinished})
	eng.emit(engine.Event{Kind: engine.PlayerReady})
	assert.Equal(t, 4, h.s.Pump())

	assert.Equal(t, []EventKind{EventScoreLoaded, EventAssetProgress, EventRenderFinished, EventPlayerReady}, h.kinds())
	assert.Equal(t, 42, h.events[1].Percent)
	v = h.s.View()
	assert.Equal(t, "", v.Placeholder)
	assert.True(t, v.Controls.TransportEnabled)
	assert.Equal(t, 6.0, v.State.Duration)
	assert.Equal(t, 120.0, v.State.Tempo)
	assert.Len(t, h.s.MeasureBounds(), 3)
}

// Scenario: the highlight follows playback one measure at a time and the
// collapsed preview scrolls to keep it in view.
func TestPositionMovesHighlight(t *testing.T) {
	h := newHarness(t)
	eng := h.load(t, "score")
	h.s.Resize(640, 300)
	eng.emit(engine.Event{Kind: engine.RenderFinished})
	eng.emit(engine.Event{Kind: engine.PlayerReady})
	h.s.Pump()
	h.events = nil

	eng.emit(engine.Event{Kind: engine.PositionChanged, CurrentTimeMs: 100, EndTimeMs: 6000, Tick: 100})
	eng.emit(engine.Event{Kind: engine.PositionChanged, CurrentTimeMs: 200, EndTimeMs: 6000, Tick: 200})
	eng.emit(engine.Event{Kind: engine.PositionChanged, CurrentTimeMs: 4100, EndTimeMs: 6000, Tick: 8000})
	h.s.Pump()

	assert.Equal(t, []EventKind{EventPosition, EventMeasureChanged, EventPosition, EventPosition, EventMeasureChanged}, h.kinds())
	v := h.s.View()
	assert.Equal(t, 2, v.Measure)
	require.NotNil(t, v.Highlight)
	assert.Equal(t, 900.0, v.Highlight.Y)
	assert.Equal(t, 884.0, v.ScrollY)
	assert.InDelta(t, 4.1, v.State.CurrentTime, 1e-9)
}

// Scenario: seeking during playback pauses, writes the scaled position and
// resumes after the delay.
func TestSeekWhilePlayingResumes(t *testing.T) {
	h := newHarness(t)
	eng := h.load(t, "score")
	eng.emit(engine.Event{Kind: engine.PlayerReady})
	h.s.Pump()

	h.s.SetTempo(60)
	h.s.Play()
	h.s.Seek(4)
	assert.Equal(t, []string{"play", "pause", "position"}, eng.Calls())
	assert.InDelta(t, 2.0, eng.Position(), 1e-9)
	assert.True(t, h.s.State().Playing)

	require.Equal(t, 1, h.timers.fire())
	assert.Equal(t, 1, h.s.Pump())
	assert.Equal(t, []string{"play", "pause", "position", "play"}, eng.Calls())
	assert.True(t, h.s.State().Playing)
	assert.InDelta(t, 4.0, h.s.State().CurrentTime, 1e-9)
}

func TestPauseCancelsPendingResume(t *testing.T) {
	h := newHarness(t)
	eng := h.load(t, "score")
	eng.emit(engine.Event{Kind: engine.PlayerReady})
	h.s.Pump()

	h.s.Play()
	h.s.Seek(1)
	h.s.Pause()
	h.timers.fire()
	h.s.Pump()
	assert.Equal(t, []string{"play", "pause", "position", "pause"}, eng.Calls())
	assert.False(t, h.s.State().Playing)
}

// Scenario: a tempo change rescales duration and position.
func TestTempoRescalesState(t *testing.T) {
	h := newHarness(t)
	eng := h.load(t, "score")
	eng.emit(engine.Event{Kind: engine.PlayerReady})
	eng.emit(engine.Event{Kind: engine.PositionChanged, CurrentTimeMs: 3000, EndTimeMs: 6000, Tick: 5760})
	h.s.Pump()

	h.s.SetTempo(240)
	st := h.s.State()
	assert.Equal(t, 240.0, st.Tempo)
	assert.InDelta(t, 3.0, st.Duration, 1e-9)
	assert.InDelta(t, 1.5, st.CurrentTime, 1e-9)
	assert.Equal(t, 2.0, eng.speed)

	h.s.SetTempo(-5)
	assert.Equal(t, 240.0, h.s.State().Tempo)

	lo, hi := h.s.View().Controls.TempoMin, h.s.View().Controls.TempoMax
	assert.Equal(t, 60.0, lo)
	assert.Equal(t, 300.0, hi)
}

// Scenario: an instrument change pauses, blocks the transport until the
// engine reports regenerated audio and does not resume.
func TestInstrumentChangeRegenerates(t *testing.T) {
	h := newHarness(t)
	eng := h.load(t, "score")
	eng.emit(engine.Event{Kind: engine.PlayerReady})
	h.s.Pump()

	h.s.Play()
	h.s.SetInstrument(25)
	v := h.s.View()
	assert.True(t, v.Regenerating)
	assert.Equal(t, "Regenerating audio...", v.Placeholder)
	assert.False(t, v.Controls.TransportEnabled)
	assert.False(t, v.Controls.InstrumentEnabled)

	h.s.Play()
	assert.Equal(t, []string{"play", "pause", "instrument", "regenerate"}, eng.Calls())
	assert.Equal(t, 25, eng.program)

	eng.emit(engine.Event{Kind: engine.AssetRegenerated})
	h.s.Pump()
	v = h.s.View()
	assert.False(t, v.Regenerating)
	assert.True(t, v.Controls.TransportEnabled)
	assert.False(t, v.State.Playing)

	h.s.SetInstrument(200)
	assert.False(t, h.s.View().Regenerating)
}

// Scenario: loading a new score tears down the old engine; anything the old
// engine reports afterwards is ignored.
func TestReloadDropsStaleCallbacks(t *testing.T) {
	h := newHarness(t)
	first := h.load(t, "first")
	first.emit(engine.Event{Kind: engine.RenderFinished})
	first.emit(engine.Event{Kind: engine.PlayerReady})

	second := h.load(t, "second")
	assert.True(t, first.closed)
	first.emit(engine.Event{Kind: engine.PositionChanged, CurrentTimeMs: 5000, Tick: 9000})
	assert.Equal(t, 1, h.s.Pump())

	v := h.s.View()
	assert.Equal(t, "Loading sound samples 0%", v.Placeholder)
	assert.Empty(t, h.s.MeasureBounds())
	assert.Equal(t, -1, v.Measure)
	assert.Equal(t, "second", h.s.Score().Title)
	assert.Equal(t, []EventKind{EventScoreLoaded}, h.kinds())

	second.emit(engine.Event{Kind: engine.RenderFinished})
	h.s.Pump()
	assert.Len(t, h.s.MeasureBounds(), 3)
}

func TestLoadFailureShowsMessage(t *testing.T) {
	h := newHarness(t, WithEngineFactory(func(b Backend, cfg EngineConfig) (engine.Engine, error) {
		return &fakeEngine{loadErr: errs.Load(errors.New("eof"), "parse", "The file is not a valid score.")}, nil
	}))
	err := h.s.LoadScoreData(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindLoad))

	v := h.s.View()
	assert.Equal(t, "failed", v.Phase)
	assert.Equal(t, "Could not load score: The file is not a valid score.", v.Placeholder)
	assert.False(t, v.Controls.InstrumentEnabled)
	assert.Equal(t, []EventKind{EventLoadFailed}, h.kinds())

	h.s.Play()
	assert.False(t, h.s.State().Playing)
}

func TestEngineErrorKeepsScore(t *testing.T) {
	h := newHarness(t)
	eng := h.load(t, "score")
	eng.emit(engine.Event{Kind: engine.Error, Err: errs.Playback(errors.New("no bank"), "load soundfont", "Sound samples could not be loaded.")})
	h.s.Pump()
	v := h.s.View()
	assert.Equal(t, "ready", v.Phase)
	assert.Equal(t, "Sound samples could not be loaded.", v.Error)
	last := h.events[len(h.events)-1]
	assert.Equal(t, EventError, last.Kind)
	assert.Equal(t, "Sound samples could not be loaded.", last.Message)

	h.s.DismissError()
	assert.Empty(t, h.s.View().Error)
}

func TestResizeIsDebounced(t *testing.T) {
	h := newHarness(t)
	eng := h.load(t, "score")
	h.s.Resize(500, 400)
	h.s.Resize(600, 400)
	h.s.Resize(700, 400)
	require.Eventually(t, func() bool { return len(eng.Widths()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []float64{700}, eng.Widths())
	assert.Equal(t, 700.0, h.s.View().ViewportW)
}

func TestMetronomeSurvivesReload(t *testing.T) {
	h := newHarness(t)
	first := h.load(t, "first")
	h.s.ToggleMetronome(true)
	assert.Equal(t, 1.0, first.metronome)
	second := h.load(t, "second")
	assert.Equal(t, 1.0, second.metronome)
	assert.True(t, h.s.Metronome())
}

func TestNoScoreOperationsAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.s.Play()
	h.s.Seek(3)
	h.s.SetInstrument(10)
	st := h.s.State()
	assert.Equal(t, transport.State{Tempo: 120}, st)
	assert.Equal(t, "Select a score to practice.", h.s.View().Placeholder)
}

func TestRunPumpsUntilCancelled(t *testing.T) {
	h := newHarness(t)
	got := make(chan Event, 8)
	h.s.Subscribe(func(ev Event) { got <- ev })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	require.NoError(t, h.s.LoadScoreData(context.Background(), []byte("score")))
	select {
	case ev := <-got:
		assert.Equal(t, EventScoreLoaded, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("no event pumped")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend(" Notation ")
	require.NoError(t, err)
	assert.Equal(t, BackendNotation, b)
	b, err = ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendTab, b)
	_, err = ParseBackend("midi")
	assert.Error(t, err)
}
