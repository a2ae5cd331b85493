// Package notation pairs a staff-and-tablature layout with a separate
// sample player: the score becomes a Standard MIDI File (or a derived file
// supplied by the API is used) and a SoundFont synthesizer plays it.
package notation

import (
	"context"
	"errors"
	"io"
	"math"
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
	"github.com/cbegin/scoresync-go/internal/sequencer"
	"github.com/cbegin/scoresync-go/internal/soundfont"
)

// SoundFontOpener returns the bank stream and its size (-1 if unknown).
type SoundFontOpener func(ctx context.Context) (io.ReadCloser, int64, error)

// TargetFactory builds the synthesizer once the bank is available. Tests
// swap it to avoid shipping a SoundFont.
type TargetFactory func(ctx context.Context, progress func(int)) (sequencer.Target, error)

type Options struct {
	SampleRate   int
	DisplayMode  score.DisplayMode
	SoundFont    SoundFontOpener
	Target       TargetFactory
	MIDI         []byte // derived MIDI asset; generated from the score when nil
	Output       audio.OutputFactory
	Logger       logrus.FieldLogger
	TickInterval time.Duration
	Width        float64
}

const defaultWidth = 960

type Engine struct {
	opts Options
	log  logrus.FieldLogger
	hub  engine.Hub

	mu       sync.Mutex
	score    *score.Score
	layout   *layout.Layout
	midi     []byte
	sequence *midigen.Sequence
	program  int
	closed   bool
	regenGen int

	*backend.Player
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ engine.Engine = (*Engine)(nil)

func New(opts Options) *Engine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Output == nil {
		opts.Output = audio.NewNullOutput
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Target == nil {
		opts.Target = soundFontTarget(opts.SoundFont, opts.SampleRate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:   opts,
		log:    opts.Logger.WithField("backend", "notation"),
		ctx:    ctx,
		cancel: cancel,
	}
	e.Player = backend.NewPlayer(&e.hub, e.log, opts.SampleRate, opts.Output, opts.TickInterval)
	return e
}

func soundFontTarget(open SoundFontOpener, rate int) TargetFactory {
	return func(ctx context.Context, progress func(int)) (sequencer.Target, error) {
		if open == nil {
			return nil, errors.New("no soundfont configured")
		}
		rc, size, err := open(ctx)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		sf, err := soundfont.Load(ctx, rc, size, progress)
		if err != nil {
			return nil, err
		}
		syn, err := soundfont.NewSynth(sf, rate)
		if err != nil {
			return nil, err
		}
		return syn, nil
	}
}

func (e *Engine) Subscribe(l engine.Listener) func() { return e.hub.Subscribe(l) }

// Load parses the score and prepares the MIDI sequence synchronously, then
// lays out and loads the SoundFont in the background.
func (e *Engine) Load(ctx context.Context, data []byte) error {
	s, err := musicxml.Parse(data)
	if err != nil {
		return err
	}
	s.ApplyDisplayMode(e.opts.DisplayMode)

	midi := e.opts.MIDI
	if midi == nil {
		if midi, err = midigen.Encode(s); err != nil {
			return errs.Render(err, "encode midi", "The score could not be prepared for playback.")
		}
	}
	sequence, err := midigen.Decode(midi, s.Timing().Resolution)
	if err != nil {
		e.log.WithError(err).Warn("derived midi unreadable, generating from score")
		sequence = midigen.FromScore(s)
		if midi, err = midigen.Encode(s); err != nil {
			return errs.Render(err, "encode midi", "The score could not be prepared for playback.")
		}
	}
	if len(sequence.Clicks) == 0 {
		sequence.Clicks = midigen.Clicks(s)
	}
	if n, err := soundfont.MIDILength(midi); err == nil && math.Abs(n-sequence.Duration()) > 0.5 {
		e.log.WithFields(logrus.Fields{"smf": n, "score": sequence.Duration()}).Debug("midi length differs from sequence")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errs.Load(nil, "engine closed", "The player was closed.")
	}
	e.score = s
	e.midi = midi
	e.sequence = sequence
	if len(s.Tracks) > 0 {
		e.program = s.Tracks[0].Program
	}
	e.mu.Unlock()

	e.hub.Emit(engine.Event{Kind: engine.ScoreLoaded, Score: s})
	e.log.WithField("measures", len(s.MasterBars)).Info("score loaded")

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.Layout(e.opts.Width)
	}()
	go func() {
		defer e.wg.Done()
		e.loadAudio()
	}()
	return nil
}

func (e *Engine) loadAudio() {
	progress := func(p int) {
		e.hub.Emit(engine.Event{Kind: engine.AssetProgress, Percent: p})
	}
	target, err := e.opts.Target(e.ctx, progress)
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		e.log.WithError(err).Error("soundfont unavailable")
		e.hub.Emit(engine.Event{Kind: engine.Error, Err: errs.Playback(err, "load soundfont", "Sound samples could not be loaded. The score is still shown without audio.")})
		return
	}

	e.mu.Lock()
	sequence := e.sequence
	e.mu.Unlock()
	if err := e.Attach(sequence, target); err != nil {
		e.log.WithError(err).Warn("notation player not attached")
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
	e.opts.DisplayMode = mode
	if e.score != nil {
		e.score.ApplyDisplayMode(mode)
	}
	e.mu.Unlock()
}

func (e *Engine) SetTrackInstrument(program int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.program = program
	if e.score != nil {
		n := e.score.SetInstrument(program)
		e.log.WithFields(logrus.Fields{"program": program, "automations": n}).Debug("instrument rewritten")
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
	e.layout = layout.Build(e.score, width, layout.NotationStyle)
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

// Regenerate rewrites the program changes in the MIDI file to the current
// instrument and swaps the decoded result into the player.
func (e *Engine) Regenerate() {
	e.mu.Lock()
	if e.midi == nil || e.closed {
		e.mu.Unlock()
		return
	}
	e.regenGen++
	gen, midi, program := e.regenGen, e.midi, e.program
	clicks, res := e.sequence.Clicks, e.sequence.Timing.Resolution
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		rewritten, n, err := midigen.RewritePrograms(midi, program)
		var next *midigen.Sequence
		if err == nil {
			next, err = midigen.Decode(rewritten, res)
		}
		if err != nil {
			e.hub.Emit(engine.Event{Kind: engine.Error, Err: errs.Playback(err, "regenerate midi", "The new instrument could not be applied.")})
			e.hub.Emit(engine.Event{Kind: engine.AssetRegenerated})
			return
		}
		next.Clicks = clicks

		e.mu.Lock()
		if gen != e.regenGen || e.closed {
			e.mu.Unlock()
			return
		}
		e.midi = rewritten
		e.sequence = next
		e.Replace(next)
		e.mu.Unlock()
		e.log.WithFields(logrus.Fields{"program": program, "messages": n}).Info("audio regenerated")
		e.hub.Emit(engine.Event{Kind: engine.AssetRegenerated})
	}()
}

// MIDI returns the current SMF bytes.
func (e *Engine) MIDI() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.midi
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
	e.cancel()
	err := e.Player.Close()
	e.wg.Wait()
	return err
}
