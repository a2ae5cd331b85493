// Package tab is the tablature engine: one component lays out tab staves
// and plays the score itself through the built-in plucked-string synth.
package tab

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/scoresync-go/internal/audio"
	"github.com/cbegin/scoresync-go/internal/backend"
	"github.com/cbegin/scoresync-go/internal/engine"
	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/layout"
	"github.com/cbegin/scoresync-go/internal/midigen"
	"github.com/cbegin/scoresync-go/internal/musicxml"
	"github.com/cbegin/scoresync-go/internal/score"
	"github.com/cbegin/scoresync-go/internal/synth"
)

type Options struct {
	SampleRate   int
	DisplayMode  score.DisplayMode
	Synth        synth.Params
	Output       audio.OutputFactory
	Logger       logrus.FieldLogger
	TickInterval time.Duration
	Width        float64
}

// DefaultOptions shows tablature only.
func DefaultOptions() Options {
	return Options{
		SampleRate:  48000,
		DisplayMode: score.DisplayTabOnly,
		Synth:       synth.DefaultParams(),
		Width:       960,
	}
}

type Engine struct {
	opts Options
	log  logrus.FieldLogger
	hub  engine.Hub

	mu       sync.Mutex
	score    *score.Score
	layout   *layout.Layout
	sequence *midigen.Sequence
	closed   bool
	regenGen int

	*backend.Player
	wg sync.WaitGroup
}

var _ engine.Engine = (*Engine)(nil)

func New(opts Options) *Engine {
	def := DefaultOptions()
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Synth == (synth.Params{}) {
		opts.Synth = def.Synth
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	e := &Engine{opts: opts, log: opts.Logger.WithField("backend", "tab")}
	e.Player = backend.NewPlayer(&e.hub, e.log, opts.SampleRate, opts.Output, opts.TickInterval)
	return e
}

func (e *Engine) Subscribe(l engine.Listener) func() { return e.hub.Subscribe(l) }

func (e *Engine) Load(ctx context.Context, data []byte) error {
	s, err := musicxml.Parse(data)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errs.Load(err, "load cancelled", "Loading was cancelled.")
	}
	s.ApplyDisplayMode(e.opts.DisplayMode)
	seq := midigen.FromScore(s)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errs.Load(nil, "engine closed", "The player was closed.")
	}
	e.score = s
	e.sequence = seq
	e.mu.Unlock()

	e.hub.Emit(engine.Event{Kind: engine.ScoreLoaded, Score: s})
	e.log.WithFields(logrus.Fields{"measures": len(s.MasterBars), "tracks": len(s.Tracks)}).Info("score loaded")

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.Layout(e.opts.Width)
	}()
	go func() {
		defer e.wg.Done()
		e.warm()
	}()
	return nil
}

// warm builds the synth, reporting its excitation tables as asset progress,
// then attaches whatever sequence is current by then.
func (e *Engine) warm() {
	p := synth.New(e.opts.SampleRate, e.opts.Synth)
	last := -1
	p.Warm(func(percent int) {
		// the player reports 100 itself once the output is open
		if percent/10 == last || percent >= 100 {
			return
		}
		last = percent / 10
		e.hub.Emit(engine.Event{Kind: engine.AssetProgress, Percent: percent})
	})
	e.mu.Lock()
	seq := e.sequence
	e.mu.Unlock()
	if err := e.Attach(seq, p); err != nil {
		e.log.WithError(err).Warn("tab player not attached")
	}
}

func (e *Engine) Score() *score.Score {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score
}

func (e *Engine) MeasureStartTicks() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.score == nil {
		return nil
	}
	return e.score.MeasureStartTicks()
}

func (e *Engine) SetDisplayMode(mode score.DisplayMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.DisplayMode = mode
	if e.score != nil {
		e.score.ApplyDisplayMode(mode)
	}
}

func (e *Engine) SetTrackInstrument(program int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.score != nil {
		e.score.SetInstrument(program)
	}
}

func (e *Engine) Layout(width float64) {
	e.mu.Lock()
	if e.score == nil || e.closed {
		e.mu.Unlock()
		return
	}
	if width <= 0 {
		width = e.opts.Width
	}
	e.opts.Width = width
	e.layout = layout.Build(e.score, width, layout.TabStyle)
	e.mu.Unlock()
	e.hub.Emit(engine.Event{Kind: engine.RenderFinished})
}

func (e *Engine) MeasureFragments() []layout.Fragment {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.layout == nil {
		return nil
	}
	return append([]layout.Fragment(nil), e.layout.Fragments...)
}

func (e *Engine) Draw(c layout.Canvas) {
	e.mu.Lock()
	l := e.layout
	e.mu.Unlock()
	if l != nil {
		l.Draw(c)
	}
}

func (e *Engine) ContentSize() (float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.layout == nil {
		return 0, 0
	}
	return e.layout.Width, e.layout.Height
}

func (e *Engine) BaseDuration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sequence == nil {
		return 0
	}
	return e.sequence.Duration()
}

func (e *Engine) SetMetronomeVolume(v float64) { e.SetMetronome(v) }

// Regenerate rebuilds the note sequence from the score, which already
// carries the new program, and hands it to the player.
func (e *Engine) Regenerate() {
	e.mu.Lock()
	if e.score == nil || e.closed {
		e.mu.Unlock()
		return
	}
	e.regenGen++
	gen, s := e.regenGen, e.score
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		next := midigen.FromScore(s)
		e.mu.Lock()
		if gen != e.regenGen || e.closed {
			e.mu.Unlock()
			return
		}
		e.sequence = next
		e.Replace(next)
		e.mu.Unlock()
		e.log.Info("audio regenerated")
		e.hub.Emit(engine.Event{Kind: engine.AssetRegenerated})
	}()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.hub.Close()
	err := e.Player.Close()
	e.wg.Wait()
	return err
}
