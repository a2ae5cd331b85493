package notation

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/scoresync-go/internal/audio"
	"github.com/cbegin/scoresync-go/internal/engine"
	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/midigen"
	"github.com/cbegin/scoresync-go/internal/musicxml"
	"github.com/cbegin/scoresync-go/internal/score"
	"github.com/cbegin/scoresync-go/internal/sequencer"
	"github.com/cbegin/scoresync-go/internal/tracker"
)

type silentTarget struct {
	mu       sync.Mutex
	programs map[int]int
}

func (s *silentTarget) NoteOn(ch, key, vel int) {}
func (s *silentTarget) NoteOff(ch, key int)     {}
func (s *silentTarget) ProgramChange(ch, p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.programs == nil {
		s.programs = map[int]int{}
	}
	s.programs[ch] = p
}
func (s *silentTarget) AllNotesOff()          {}
func (s *silentTarget) Render(l, r []float32) {}
func (s *silentTarget) snapshot() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int]int{}
	for ch, p := range s.programs {
		out[ch] = p
	}
	return out
}

// manualOutput only pulls samples when the test asks.
type manualOutput struct {
	mu      sync.Mutex
	src     audio.SampleSource
	rate    int
	playing bool
	closed  bool
}

func (m *manualOutput) Play()  { m.mu.Lock(); m.playing = true; m.mu.Unlock() }
func (m *manualOutput) Pause() { m.mu.Lock(); m.playing = false; m.mu.Unlock() }
func (m *manualOutput) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}
func (m *manualOutput) Close() error { m.mu.Lock(); m.closed = true; m.mu.Unlock(); return nil }

func (m *manualOutput) pull(seconds float64) {
	m.src.Process(make([]float32, 2*int(seconds*float64(m.rate))))
}

type recorder struct {
	mu     sync.Mutex
	events []engine.Event
}

func (r *recorder) listen(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind engine.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind engine.EventKind) (engine.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return engine.Event{}, false
}

type fixture struct {
	eng    *Engine
	rec    *recorder
	out    *manualOutput
	target *silentTarget
	hook   *test.Hook
}

func etude(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "musicxml", "testdata", "etude.musicxml"))
	require.NoError(t, err)
	return raw
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	f := &fixture{rec: &recorder{}, target: &silentTarget{}, hook: hook}
	opts := Options{
		SampleRate:   1000,
		DisplayMode:  score.DisplayBoth,
		Logger:       log,
		TickInterval: 5 * time.Millisecond,
		Target: func(ctx context.Context, progress func(int)) (sequencer.Target, error) {
			progress(40)
			return f.target, nil
		},
		Output: func(rate int, src audio.SampleSource) (audio.Output, error) {
			f.out = &manualOutput{src: src, rate: rate}
			return f.out, nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.eng = New(opts)
	f.eng.Subscribe(f.rec.listen)
	t.Cleanup(func() { _ = f.eng.Close() })
	return f
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.rec.count(engine.PlayerReady) == 1 }, time.Second, time.Millisecond)
}

func TestLoadEmitsScoreLoadedSynchronously(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))

	ev, ok := f.rec.last(engine.ScoreLoaded)
	require.True(t, ok)
	require.NotNil(t, ev.Score)
	assert.Equal(t, ev.Score.MeasureStartTicks(), f.eng.MeasureStartTicks())
	assert.Greater(t, f.eng.BaseDuration(), 0.0)
	assert.NotEmpty(t, f.eng.MIDI())

	require.Eventually(t, func() bool { return f.rec.count(engine.RenderFinished) == 1 }, time.Second, time.Millisecond)
	assert.NotEmpty(t, f.eng.MeasureFragments())
	w, h := f.eng.ContentSize()
	assert.Greater(t, w, 0.0)
	assert.Greater(t, h, 0.0)

	f.ready(t)
	p, ok := f.rec.last(engine.AssetProgress)
	require.True(t, ok)
	assert.Equal(t, 100, p.Percent)
}

func TestLoadRejectsGarbage(t *testing.T) {
	f := newFixture(t, nil)
	err := f.eng.Load(context.Background(), []byte("not a score"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindLoad))
	assert.Zero(t, f.rec.count(engine.ScoreLoaded))
}

func TestPlayBeforeReadyIsQueued(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	f.eng.Play()
	f.ready(t)

	require.Eventually(t, func() bool {
		ev, ok := f.rec.last(engine.StateChanged)
		return ok && ev.Playing
	}, time.Second, time.Millisecond)
	assert.True(t, f.out.IsPlaying())
}

func TestPositionTicksAndEnd(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	f.ready(t)

	f.eng.Play()
	f.out.pull(0.5)
	require.Eventually(t, func() bool {
		ev, ok := f.rec.last(engine.PositionChanged)
		return ok && ev.CurrentTimeMs > 0
	}, time.Second, time.Millisecond)
	ev, _ := f.rec.last(engine.PositionChanged)
	assert.InDelta(t, f.eng.BaseDuration()*1000, ev.EndTimeMs, 1)

	f.out.pull(f.eng.BaseDuration() + 1)
	require.Eventually(t, func() bool {
		ev, ok := f.rec.last(engine.StateChanged)
		return ok && !ev.Playing
	}, time.Second, time.Millisecond)
	assert.InDelta(t, f.eng.BaseDuration(), f.eng.Position(), 0.01)
	assert.False(t, f.out.IsPlaying())
}

func TestSetPositionBeforeReadyIsApplied(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	f.eng.SetPosition(1.5)
	f.ready(t)
	assert.InDelta(t, 1.5, f.eng.Position(), 0.01)
}

func TestRegenerateRewritesPrograms(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	f.ready(t)

	f.eng.SetTrackInstrument(33)
	assert.Equal(t, 33, f.eng.Score().Tracks[0].Program)
	f.eng.Regenerate()
	require.Eventually(t, func() bool { return f.rec.count(engine.AssetRegenerated) == 1 }, time.Second, time.Millisecond)

	seq, err := midigen.Decode(f.eng.MIDI(), 0)
	require.NoError(t, err)
	for _, ev := range seq.Events {
		if ev.Kind == midigen.ProgramChange {
			assert.Equal(t, 33, ev.Program)
		}
	}
	f.eng.SetPosition(1)
	programs := f.target.snapshot()
	require.NotEmpty(t, programs)
	for _, p := range programs {
		assert.Equal(t, 33, p)
	}
}

func TestRegenerateFailureStillReports(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	f.ready(t)

	f.eng.mu.Lock()
	f.eng.midi = []byte("broken")
	f.eng.mu.Unlock()
	f.eng.Regenerate()
	require.Eventually(t, func() bool { return f.rec.count(engine.AssetRegenerated) == 1 }, time.Second, time.Millisecond)
	ev, ok := f.rec.last(engine.Error)
	require.True(t, ok)
	assert.True(t, errs.Is(ev.Err, errs.KindPlayback))
}

func TestSoundFontFailureKeepsScore(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Target = func(ctx context.Context, progress func(int)) (sequencer.Target, error) {
			return nil, errors.New("bank missing")
		}
	})
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	require.Eventually(t, func() bool { return f.rec.count(engine.Error) == 1 }, time.Second, time.Millisecond)
	ev, _ := f.rec.last(engine.Error)
	assert.True(t, errs.Is(ev.Err, errs.KindPlayback))
	assert.Zero(t, f.rec.count(engine.PlayerReady))
	assert.NotNil(t, f.eng.Score())

	f.eng.Play()
	assert.Zero(t, f.rec.count(engine.StateChanged))
}

func TestCloseIsIdempotentAndSilences(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	f.ready(t)
	f.eng.Play()

	require.NoError(t, f.eng.Close())
	require.NoError(t, f.eng.Close())
	assert.True(t, f.out.closed)

	n := len(f.rec.events)
	f.eng.Play()
	f.eng.Layout(500)
	assert.Len(t, f.rec.events, n)
	assert.Error(t, f.eng.Load(context.Background(), etude(t)))
}

// atResolution rewrites an SMF with ppq ticks per quarter, as exporters
// other than ours usually produce.
func atResolution(t *testing.T, data []byte, ppq uint16) []byte {
	t.Helper()
	sm, err := smf.ReadFrom(bytes.NewReader(data))
	require.NoError(t, err)
	from := float64(sm.TimeFormat.(smf.MetricTicks).Resolution())
	out := smf.New()
	out.TimeFormat = smf.MetricTicks(ppq)
	for _, tr := range sm.Tracks {
		var nt smf.Track
		abs, last := 0, 0
		for _, ev := range tr {
			abs += int(ev.Delta)
			at := int(math.Round(float64(abs) * float64(ppq) / from))
			nt = append(nt, smf.Event{Delta: uint32(at - last), Message: ev.Message})
			last = at
		}
		require.NoError(t, out.Add(nt))
	}
	var buf bytes.Buffer
	_, err = out.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDerivedMIDIFollowsScoreTicks(t *testing.T) {
	s, err := musicxml.Parse(etude(t))
	require.NoError(t, err)
	own, err := midigen.Encode(s)
	require.NoError(t, err)
	derived := atResolution(t, own, 480)

	f := newFixture(t, func(o *Options) { o.MIDI = derived })
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	f.ready(t)

	starts := f.eng.MeasureStartTicks()
	require.GreaterOrEqual(t, len(starts), 3)
	timing := f.eng.Score().Timing()
	f.eng.SetPosition(timing.SecondsAt(starts[2]) + 0.01)
	ev, ok := f.rec.last(engine.PositionChanged)
	require.True(t, ok)
	assert.Equal(t, 2, tracker.Index(starts, ev.Tick))
	assert.InDelta(t, f.eng.Score().Duration()*1000, ev.EndTimeMs, 5)

	f.eng.mu.Lock()
	seq := f.eng.sequence
	f.eng.mu.Unlock()
	assert.Equal(t, timing.Resolution, seq.Timing.Resolution)
	require.NotEmpty(t, seq.Clicks)
	assert.LessOrEqual(t, seq.Clicks[len(seq.Clicks)-1].Tick, seq.EndTick)

	f.eng.SetTrackInstrument(33)
	f.eng.Regenerate()
	require.Eventually(t, func() bool { return f.rec.count(engine.AssetRegenerated) == 1 }, time.Second, time.Millisecond)
	f.eng.mu.Lock()
	seq = f.eng.sequence
	f.eng.mu.Unlock()
	assert.Equal(t, timing.Resolution, seq.Timing.Resolution)
}

func TestInstrumentChangeBeforeSoundFontIsPlayed(t *testing.T) {
	release := make(chan struct{})
	var f *fixture
	f = newFixture(t, func(o *Options) {
		o.Target = func(ctx context.Context, progress func(int)) (sequencer.Target, error) {
			select {
			case <-release:
				return f.target, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	})
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	f.eng.SetTrackInstrument(33)
	f.eng.Regenerate()
	require.Eventually(t, func() bool { return f.rec.count(engine.AssetRegenerated) == 1 }, time.Second, time.Millisecond)
	assert.False(t, f.eng.Ready())
	close(release)
	f.ready(t)

	f.eng.SetPosition(1)
	programs := f.target.snapshot()
	require.NotEmpty(t, programs)
	for _, p := range programs {
		assert.Equal(t, 33, p)
	}
}

func TestOutputFailureIsReportedAndLogged(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Output = func(rate int, src audio.SampleSource) (audio.Output, error) {
			return nil, errors.New("no device")
		}
	})
	require.NoError(t, f.eng.Load(context.Background(), etude(t)))
	require.Eventually(t, func() bool { return f.rec.count(engine.Error) == 1 }, time.Second, time.Millisecond)
	ev, _ := f.rec.last(engine.Error)
	assert.True(t, errs.Is(ev.Err, errs.KindPlayback))
	assert.Zero(t, f.rec.count(engine.PlayerReady))
	assert.False(t, f.eng.Ready())

	require.Eventually(t, func() bool {
		for _, e := range f.hook.AllEntries() {
			if e.Level == logrus.WarnLevel && e.Message == "notation player not attached" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}
