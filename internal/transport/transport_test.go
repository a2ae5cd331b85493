package transport

import (
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	playing     bool
	position    float64
	base        float64
	speed       float64
	metronome   float64
	program     int
	regenerates int
	calls       []string
}

func (f *fakeEngine) Play()                        { f.playing = true; f.calls = append(f.calls, "play") }
func (f *fakeEngine) Pause()                       { f.playing = false; f.calls = append(f.calls, "pause") }
func (f *fakeEngine) SetPosition(s float64)        { f.position = s; f.calls = append(f.calls, "position") }
func (f *fakeEngine) Position() float64            { return f.position }
func (f *fakeEngine) BaseDuration() float64        { return f.base }
func (f *fakeEngine) SetSpeed(r float64)           { f.speed = r }
func (f *fakeEngine) SetMetronomeVolume(v float64) { f.metronome = v }
func (f *fakeEngine) SetTrackInstrument(p int) {
	f.program = p
	f.calls = append(f.calls, "instrument")
}
func (f *fakeEngine) Regenerate() { f.regenerates++; f.calls = append(f.calls, "regenerate") }

type manualScheduler struct {
	pending []func()
	delays  []time.Duration
}

func (m *manualScheduler) schedule(d time.Duration, fn func()) func() {
	i := len(m.pending)
	m.pending = append(m.pending, fn)
	m.delays = append(m.delays, d)
	return func() { m.pending[i] = nil }
}

func (m *manualScheduler) fire() {
	fns := m.pending
	m.pending = nil
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

func setup(base, tempo float64) (*Transport, *fakeEngine, *manualScheduler, *test.Hook) {
	logger, hook := test.NewNullLogger()
	sch := &manualScheduler{}
	tr := New(logger, sch.schedule)
	eng := &fakeEngine{base: base}
	tr.Attach(eng, tempo)
	return tr, eng, sch, hook
}

func TestOperationsWithoutScoreAreLoggedNoOps(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tr := New(logger, nil)
	tr.Play()
	tr.Pause()
	tr.Stop()
	tr.Seek(3)
	tr.SetInstrument(25)
	assert.Len(t, hook.AllEntries(), 5)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, State{Tempo: 120}, tr.State())
}

func TestTempoChangeScalesDuration(t *testing.T) {
	tr, eng, _, _ := setup(120, 120)
	tr.SetTempo(90)
	assert.InDelta(t, 0.75, tr.PlaybackSpeed(), 1e-12)
	assert.InDelta(t, 160, tr.State().Duration, 1e-9)
	assert.InDelta(t, 0.75, eng.speed, 1e-12)
}

func TestTempoRoundTripAndInvalidInput(t *testing.T) {
	tr, _, _, hook := setup(60, 100)
	for _, bpm := range []float64{30, 87.5, 300, 1000, 0.5} {
		tr.SetTempo(bpm)
		assert.Equal(t, bpm, tr.State().Tempo)
	}
	tr.SetTempo(72)
	for _, bad := range []float64{0, -10, math.NaN(), math.Inf(1)} {
		tr.SetTempo(bad)
		assert.Equal(t, 72.0, tr.State().Tempo)
	}
	assert.Len(t, hook.AllEntries(), 4)
}

func TestDurationFormula(t *testing.T) {
	assert.Equal(t, 0.0, Duration(0, 2))
	assert.Equal(t, 0.0, Duration(math.NaN(), 1))
	assert.Equal(t, 0.0, Duration(math.Inf(1), 1))
	assert.InDelta(t, 50.0, Duration(100, 2), 1e-12)
	assert.Equal(t, 1.0, Speed(math.NaN(), 120))
	assert.Equal(t, 1.0, Speed(100, 0))
}

func TestSeekClamps(t *testing.T) {
	tr, eng, _, _ := setup(60, 120)
	tr.Seek(-5)
	assert.Equal(t, 0.0, tr.State().CurrentTime)
	tr.Seek(999)
	assert.Equal(t, 60.0, tr.State().CurrentTime)
	assert.Equal(t, 60.0, eng.position)

	tr.Seek(math.NaN())
	assert.Equal(t, 60.0, tr.State().CurrentTime)
}

func TestSeekWithUnknownDurationIsOpenEnded(t *testing.T) {
	tr, eng, _, _ := setup(0, 120)
	tr.Seek(999)
	assert.Equal(t, 999.0, eng.position)
	tr.Seek(-1)
	assert.Equal(t, 0.0, eng.position)
}

func TestSeekWritesScoreTime(t *testing.T) {
	tr, eng, _, _ := setup(120, 120)
	tr.SetTempo(60)
	tr.Seek(100)
	assert.Equal(t, 50.0, eng.position, "half speed: 100 wall seconds are 50 score seconds")
	assert.Equal(t, 100.0, tr.State().CurrentTime)
}

func TestSeekWhilePlayingResumesAfterDelay(t *testing.T) {
	tr, eng, sch, _ := setup(60, 120)
	tr.Play()
	eng.calls = nil

	tr.Seek(10)
	assert.Equal(t, []string{"pause", "position"}, eng.calls)
	assert.False(t, eng.playing)
	require.Len(t, sch.delays, 1)
	assert.Equal(t, ResumeDelay, sch.delays[0])
	assert.True(t, tr.ResumePending())

	tr.OnStateChanged(false)
	sch.fire()
	assert.True(t, eng.playing)
	assert.True(t, tr.State().Playing)
	assert.False(t, tr.ResumePending())
}

func TestPauseCancelsPendingResume(t *testing.T) {
	tr, eng, sch, _ := setup(60, 120)
	tr.Play()
	tr.Seek(10)
	tr.Pause()
	sch.fire()
	assert.False(t, eng.playing)
	assert.False(t, tr.State().Playing)
}

func TestSecondSeekSupersedesFirstResume(t *testing.T) {
	tr, eng, sch, _ := setup(60, 120)
	tr.Play()
	tr.Seek(10)
	first := sch.pending[0]
	tr.Seek(20)
	eng.calls = nil
	first()
	assert.Empty(t, eng.calls, "stale resume must not play")
	sch.fire()
	assert.Equal(t, []string{"play"}, eng.calls)
	assert.Equal(t, 20.0, eng.position)
}

func TestStopRewinds(t *testing.T) {
	tr, eng, _, _ := setup(60, 120)
	tr.Play()
	tr.OnPosition(30000, 60000)
	assert.Equal(t, 30.0, tr.State().CurrentTime)
	tr.Stop()
	st := tr.State()
	assert.False(t, st.Playing)
	assert.Equal(t, 0.0, st.CurrentTime)
	assert.Equal(t, 0.0, eng.position)
	assert.False(t, eng.playing)
}

func TestPlayIsIdempotent(t *testing.T) {
	tr, eng, _, _ := setup(60, 120)
	tr.Play()
	tr.Play()
	assert.Equal(t, []string{"play"}, eng.calls)
}

func TestInstrumentChangeWhilePlaying(t *testing.T) {
	tr, eng, _, _ := setup(120, 120)
	tr.Play()
	tr.OnPosition(42000, 120000)
	eng.calls = nil

	tr.SetInstrument(25)
	assert.Equal(t, []string{"pause", "instrument", "regenerate"}, eng.calls)
	st := tr.State()
	assert.False(t, st.Playing)
	assert.True(t, tr.Regenerating())
	assert.Equal(t, 25, eng.program)

	tr.Play()
	assert.False(t, eng.playing, "play is refused while regenerating")

	tr.OnRegenerated()
	assert.False(t, tr.Regenerating())
	st = tr.State()
	assert.False(t, st.Playing, "no auto-resume")
	assert.Equal(t, 42.0, st.CurrentTime)
}

func TestInstrumentOutOfRange(t *testing.T) {
	tr, eng, _, hook := setup(120, 120)
	tr.SetInstrument(128)
	assert.False(t, tr.Regenerating())
	assert.Zero(t, eng.regenerates)
	assert.NotNil(t, hook.LastEntry())
}

func TestMetronomeDoesNotTouchPlayback(t *testing.T) {
	tr, eng, _, _ := setup(120, 120)
	tr.Play()
	eng.calls = nil
	tr.ToggleMetronome(true)
	assert.Equal(t, 1.0, eng.metronome)
	tr.ToggleMetronome(false)
	assert.Equal(t, 0.0, eng.metronome)
	assert.Empty(t, eng.calls)
	assert.True(t, eng.playing)
}

func TestMetronomeSurvivesReattach(t *testing.T) {
	tr, _, _, _ := setup(120, 120)
	tr.ToggleMetronome(true)
	next := &fakeEngine{base: 10}
	tr.Attach(next, 90)
	assert.Equal(t, 1.0, next.metronome)
	assert.Equal(t, 1.0, next.speed)
	assert.Equal(t, 90.0, tr.State().Tempo)
}

func TestStateIsSanitized(t *testing.T) {
	tr, _, _, _ := setup(math.NaN(), math.NaN())
	tr.OnPosition(math.NaN(), math.NaN())
	st := tr.State()
	assert.Equal(t, 0.0, st.Duration)
	assert.Equal(t, 0.0, st.CurrentTime)
	assert.Equal(t, 120.0, st.Tempo)

	tr.OnPosition(-500, 0)
	assert.Equal(t, 0.0, tr.State().CurrentTime)
}

func TestDetachStopsPendingWork(t *testing.T) {
	tr, eng, sch, _ := setup(60, 120)
	tr.Play()
	tr.Seek(5)
	tr.Detach()
	eng.calls = nil
	sch.fire()
	assert.Empty(t, eng.calls)
	assert.False(t, tr.Attached())
}
