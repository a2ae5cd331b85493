// Package scoresync keeps a rendered score, its audio playback and a practice
// view in step. A Session owns one engine at a time (notation or tablature),
// drives it through the transport and mirrors its events into the view
// model: the active measure is highlighted and kept in view while the audio
// plays.
//
// Engine callbacks arrive on engine goroutines. The session queues them and
// applies them on whichever goroutine calls Pump or Run, dropping any that
// belong to an engine that has since been replaced.
package scoresync

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/scoresync-go/internal/engine"
	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/fetch"
	"github.com/cbegin/scoresync-go/internal/layout"
	"github.com/cbegin/scoresync-go/internal/score"
	"github.com/cbegin/scoresync-go/internal/transport"
	"github.com/cbegin/scoresync-go/internal/viewer"
)

type queued struct {
	gen int
	fn  func() []Event
}

type Session struct {
	cfg     sessionConfig
	log     logrus.FieldLogger
	fetcher *fetch.Client
	resize  func(f func())

	mu        sync.Mutex
	gen       int
	eng       engine.Engine
	unsub     func()
	transport *transport.Transport
	viewer    *viewer.Viewer
	width     float64
	closed    bool

	qmu   sync.Mutex
	queue []queued
	wake  chan struct{}

	smu     sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	watch   chan Event
}

func New(opts ...Option) *Session {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logrus.StandardLogger()
	}
	if cfg.factory == nil {
		cfg.factory = NewEngine
	}
	if cfg.afterFunc == nil {
		cfg.afterFunc = afterFunc
	}
	if cfg.fetcher == nil {
		cfg.fetcher = fetch.New()
	}
	s := &Session{
		cfg:     cfg,
		log:     cfg.log,
		fetcher: cfg.fetcher,
		resize:  debounce.New(cfg.resizeDebounce),
		viewer:  viewer.New(cfg.viewer),
		width:   cfg.width,
		wake:    make(chan struct{}, 1),
		subs:    map[int]func(Event){},
	}
	s.transport = transport.New(cfg.log, s.schedule)
	return s
}

// schedule is the transport's timer. The transport only calls it while the
// session lock is held, so reading gen is safe.
func (s *Session) schedule(d time.Duration, fn func()) func() {
	gen := s.gen
	return s.cfg.afterFunc(d, func() {
		s.post(gen, func() []Event {
			fn()
			return s.stateEvents(EventStateChanged)
		})
	})
}

func (s *Session) post(gen int, fn func() []Event) {
	s.qmu.Lock()
	s.queue = append(s.queue, queued{gen: gen, fn: fn})
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) pop() (queued, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return queued{}, false
	}
	q := s.queue[0]
	s.queue[0] = queued{}
	s.queue = s.queue[1:]
	return q, true
}

// Pump applies every queued engine callback on the calling goroutine and
// returns how many were applied. Stale callbacks are discarded.
func (s *Session) Pump() int {
	n := 0
	for {
		q, ok := s.pop()
		if !ok {
			return n
		}
		s.mu.Lock()
		if q.gen != s.gen || s.closed {
			s.mu.Unlock()
			continue
		}
		evs := q.fn()
		s.mu.Unlock()
		n++
		s.publish(evs)
	}
}

// Run pumps until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.Pump()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// Wake is signalled whenever a callback is queued.
func (s *Session) Wake() <-chan struct{} { return s.wake }

func (s *Session) listener(gen int, eng engine.Engine) engine.Listener {
	return func(ev engine.Event) {
		s.post(gen, func() []Event { return s.apply(eng, ev) })
	}
}

// apply runs with s.mu held and the engine current.
func (s *Session) apply(eng engine.Engine, ev engine.Event) []Event {
	out := []Event{}
	switch ev.Kind {
	case engine.RenderFinished:
		w, h := eng.ContentSize()
		s.viewer.RenderFinished(eng.MeasureFragments(), w, h)
	case engine.PlayerReady:
		s.viewer.PlayerReady()
		s.transport.OnBaseDuration(eng.BaseDuration())
	case engine.AssetProgress:
		s.viewer.Progress(ev.Percent)
	case engine.PositionChanged:
		s.transport.OnPosition(ev.CurrentTimeMs, ev.EndTimeMs)
		if _, changed := s.viewer.Position(ev.Tick); changed {
			out = append(out, s.event(EventMeasureChanged))
		}
	case engine.StateChanged:
		s.transport.OnStateChanged(ev.Playing)
	case engine.AssetRegenerated:
		s.transport.OnRegenerated()
		s.viewer.SetRegenerating(false)
	case engine.Error:
		msg := errs.Message(ev.Err)
		s.viewer.SetError(msg)
		s.log.WithError(ev.Err).Warn("engine error")
	}
	s.viewer.SetState(s.transport.State())
	e := s.event(kindOf(ev.Kind))
	e.Percent = ev.Percent
	if ev.Err != nil {
		e.Err = ev.Err
		e.Message = errs.Message(ev.Err)
	}
	return append([]Event{e}, out...)
}

func (s *Session) event(kind EventKind) Event {
	return Event{Kind: kind, State: s.transport.State(), Measure: s.viewer.CurrentMeasure()}
}

func (s *Session) stateEvents(kind EventKind) []Event {
	s.viewer.SetState(s.transport.State())
	return []Event{s.event(kind)}
}

// Subscribe registers fn for every applied event. fn runs on the pumping
// goroutine without the session lock held.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.smu.Lock()
	defer s.smu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.smu.Lock()
		defer s.smu.Unlock()
		delete(s.subs, id)
	}
}

// Watch returns a channel of applied events. Only the most recent Watch
// channel receives events, and events are dropped when it is full.
func (s *Session) Watch() <-chan Event {
	ch := make(chan Event, 64)
	s.smu.Lock()
	s.watch = ch
	s.smu.Unlock()
	return ch
}

func (s *Session) publish(evs []Event) {
	if len(evs) == 0 {
		return
	}
	s.smu.Lock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	ch := s.watch
	s.smu.Unlock()
	for _, ev := range evs {
		for _, fn := range subs {
			fn(ev)
		}
		if ch != nil {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// detachLocked drops the current engine from the session and invalidates
// everything it queued. The caller closes the returned engine after
// unlocking.
func (s *Session) detachLocked() engine.Engine {
	s.gen++
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.transport.Detach()
	eng := s.eng
	s.eng = nil
	return eng
}

func (s *Session) closeEngine(eng engine.Engine) {
	if eng == nil {
		return
	}
	if err := eng.Close(); err != nil {
		s.log.WithError(err).Warn("closing engine")
	}
}

func (s *Session) begin() (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errs.Load(nil, "session closed", "The player was closed.")
	}
	old := s.detachLocked()
	s.viewer.BeginLoad()
	gen := s.gen
	s.mu.Unlock()
	s.closeEngine(old)
	return gen, nil
}

func (s *Session) fail(gen int, err error) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return err
	}
	s.viewer.LoadFailed(errs.Message(err))
	old := s.detachLocked()
	ev := Event{Kind: EventLoadFailed, Err: err, Message: errs.Message(err), Measure: s.viewer.CurrentMeasure()}
	s.mu.Unlock()
	s.closeEngine(old)
	s.log.WithError(err).Error("score load failed")
	s.publish([]Event{ev})
	return err
}

// LoadScore fetches a score from a URL or path and loads it, replacing the
// current one. With WithMIDIURL the notation backend plays the derived MIDI
// asset; if that download fails the MIDI is generated from the score.
func (s *Session) LoadScore(ctx context.Context, src string, opts ...LoadOption) error {
	var lc loadConfig
	for _, opt := range opts {
		opt(&lc)
	}
	gen, err := s.begin()
	if err != nil {
		return err
	}
	s.log.WithField("src", src).Info("loading score")
	data, err := s.fetcher.Get(ctx, src)
	if err != nil {
		return s.fail(gen, err)
	}
	if lc.midiURL != "" && lc.midi == nil {
		midi, err := s.fetcher.Get(ctx, lc.midiURL)
		if err != nil {
			s.log.WithError(err).Warn("derived midi unavailable, generating from score")
		} else {
			lc.midi = midi
		}
	}
	return s.load(ctx, gen, data, lc)
}

// LoadPiece loads a score by file id from the API, with an optional
// derived MIDI file id.
func (s *Session) LoadPiece(ctx context.Context, scoreFileID int, midiFileID *int) error {
	src, _ := fetch.AssetURL(s.cfg.apiBase, &scoreFileID)
	var opts []LoadOption
	if u, ok := fetch.AssetURL(s.cfg.apiBase, midiFileID); ok {
		opts = append(opts, WithMIDIURL(u))
	}
	return s.LoadScore(ctx, src, opts...)
}

// LoadScoreData loads an already fetched score.
func (s *Session) LoadScoreData(ctx context.Context, data []byte, opts ...LoadOption) error {
	var lc loadConfig
	for _, opt := range opts {
		opt(&lc)
	}
	gen, err := s.begin()
	if err != nil {
		return err
	}
	return s.load(ctx, gen, data, lc)
}

func (s *Session) load(ctx context.Context, gen int, data []byte, lc loadConfig) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return errs.Load(nil, "load superseded", "A newer score replaced this one.")
	}
	eng, err := s.cfg.factory(s.cfg.backend, EngineConfig{
		SampleRate:   s.cfg.sampleRate,
		DisplayMode:  s.cfg.displayMode,
		SoundFont:    s.cfg.soundFont,
		MIDI:         lc.midi,
		Output:       s.cfg.output,
		Fetcher:      s.fetcher,
		Logger:       s.log,
		TickInterval: s.cfg.tickInterval,
		Width:        s.width,
	})
	if err != nil {
		s.mu.Unlock()
		return s.fail(gen, errs.Load(err, "create engine", "The player could not be started."))
	}
	s.eng = eng
	s.unsub = eng.Subscribe(s.listener(gen, eng))
	s.mu.Unlock()

	if err := eng.Load(ctx, data); err != nil {
		return s.fail(gen, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return errs.Load(nil, "load superseded", "A newer score replaced this one.")
	}
	orig := score.DefaultTempo
	if sc := eng.Score(); sc != nil {
		orig = sc.OriginalTempo()
	}
	s.transport.Attach(eng, orig)
	s.viewer.ScoreLoaded(eng.MeasureStartTicks(), s.transport.OriginalTempo())
	s.viewer.SetState(s.transport.State())
	s.log.WithFields(logrus.Fields{"backend": s.cfg.backend, "tempo": orig}).Info("score ready")
	return nil
}

func (s *Session) do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.viewer.SetState(s.transport.State())
}

func (s *Session) Play()  { s.do(s.transport.Play) }
func (s *Session) Pause() { s.do(s.transport.Pause) }
func (s *Session) Stop()  { s.do(s.transport.Stop) }

// Seek jumps to seconds of playback time at the current tempo.
func (s *Session) Seek(seconds float64) {
	s.do(func() { s.transport.Seek(seconds) })
}

func (s *Session) SetTempo(bpm float64) {
	s.do(func() { s.transport.SetTempo(bpm) })
}

func (s *Session) ToggleMetronome(enabled bool) {
	s.do(func() { s.transport.ToggleMetronome(enabled) })
}

// SetInstrument switches every track to a General MIDI program. Audio is
// regenerated in the background; transport controls stay disabled until it
// finishes.
func (s *Session) SetInstrument(program int) {
	s.do(func() {
		s.transport.SetInstrument(program)
		s.viewer.SetRegenerating(s.transport.Regenerating())
	})
}

func (s *Session) SetCollapsed(collapsed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewer.SetCollapsed(collapsed)
}

// ScrollBy pans the expanded score view.
func (s *Session) ScrollBy(dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewer.ScrollBy(dx, dy)
}

func (s *Session) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewer.DismissError()
}

// Resize records the viewport. Width changes re-lay the score once resizing
// has settled.
func (s *Session) Resize(width, height float64) {
	s.mu.Lock()
	s.viewer.SetViewport(width, height)
	changed := width > 0 && width != s.width
	if changed {
		s.width = width
	}
	gen := s.gen
	s.mu.Unlock()
	if changed {
		s.resize(func() { s.relayout(gen, width) })
	}
}

func (s *Session) relayout(gen int, width float64) {
	s.mu.Lock()
	eng := s.eng
	stale := gen != s.gen || eng == nil
	s.mu.Unlock()
	if stale {
		return
	}
	eng.Layout(width)
}

func (s *Session) State() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport.State()
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewer.SetState(s.transport.State())
	return s.viewer.Snapshot()
}

// MeasureBounds returns the cached measure rectangles, sorted by index.
// It is empty until the score has been rendered.
func (s *Session) MeasureBounds() []MeasureBounds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer.MeasureBounds()
}

func (s *Session) Metronome() bool { return s.transport.Metronome() }

func (s *Session) Backend() Backend { return s.cfg.backend }

// Score is the loaded score, or nil.
func (s *Session) Score() *score.Score {
	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Score()
}

// Draw paints the laid-out score.
func (s *Session) Draw(c layout.Canvas) {
	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()
	if eng != nil {
		eng.Draw(c)
	}
}

// Close tears down the engine. Queued callbacks are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	eng := s.detachLocked()
	s.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Close()
}
