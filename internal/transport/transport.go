// Package transport is the playback state machine that sits between the UI
// and an engine: play, pause, stop, seek, tempo, metronome and instrument
// changes, with the authoritative PlaybackState.
package transport

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/scoresync-go/internal/mathx"
	"github.com/cbegin/scoresync-go/internal/score"
)

// ResumeDelay is how long a seek during playback waits before playing again.
const ResumeDelay = 50 * time.Millisecond

// Engine is the part of an engine the transport drives. Positions are score
// time in seconds at the original tempo.
type Engine interface {
	Play()
	Pause()
	SetPosition(seconds float64)
	Position() float64
	BaseDuration() float64
	SetSpeed(ratio float64)
	SetMetronomeVolume(v float64)
	SetTrackInstrument(program int)
	Regenerate()
}

// Scheduler runs fn after d unless the returned cancel is called first.
// fn must not run on the caller's goroutine before the scheduler returns.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// AfterFunc schedules on a timer goroutine.
func AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// State is the PlaybackState mirrored into the UI. Times are wall-clock
// seconds at the current playback speed.
type State struct {
	Playing     bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Tempo       float64 `json:"tempo"`
}

type Transport struct {
	mu    sync.Mutex
	log   logrus.FieldLogger
	sched Scheduler

	eng           Engine
	originalTempo float64
	tempo         float64
	playing       bool
	current       float64
	baseDuration  float64
	metronome     bool
	regenerating  bool

	cancelResume func()
	resumeGen    int
}

func New(log logrus.FieldLogger, sched Scheduler) *Transport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if sched == nil {
		sched = AfterFunc
	}
	return &Transport{log: log, sched: sched, tempo: score.DefaultTempo}
}

// Attach binds a freshly loaded engine. Everything but the metronome
// setting starts over.
func (t *Transport) Attach(eng Engine, originalTempo float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelPendingLocked()
	t.eng = eng
	t.originalTempo = originalTempo
	t.tempo = originalTempo
	if !mathx.Positive(t.tempo) {
		t.tempo = score.DefaultTempo
	}
	t.playing = false
	t.current = 0
	t.regenerating = false
	t.baseDuration = 0
	if eng == nil {
		return
	}
	t.baseDuration = eng.BaseDuration()
	eng.SetSpeed(t.speedLocked())
	eng.SetMetronomeVolume(metronomeGain(t.metronome))
}

// Detach forgets the engine, as when the session tears it down.
func (t *Transport) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelPendingLocked()
	t.eng = nil
	t.playing = false
	t.current = 0
	t.baseDuration = 0
	t.regenerating = false
}

func (t *Transport) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eng != nil
}

func (t *Transport) noScore(op string) bool {
	if t.eng != nil {
		return false
	}
	t.log.WithField("op", op).Warn("transport: no score loaded, ignoring")
	return true
}

func (t *Transport) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.noScore("play") {
		return
	}
	if t.regenerating {
		t.log.WithField("op", "play").Warn("transport: audio is regenerating, ignoring")
		return
	}
	if t.playing {
		return
	}
	t.cancelPendingLocked()
	t.eng.Play()
	t.playing = true
}

func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.noScore("pause") {
		return
	}
	t.cancelPendingLocked()
	t.eng.Pause()
	t.playing = false
}

// Stop halts playback and rewinds to the start.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.noScore("stop") {
		return
	}
	t.cancelPendingLocked()
	t.eng.Pause()
	t.eng.SetPosition(0)
	t.playing = false
	t.current = 0
}

// Seek moves to target wall-clock seconds, clamped into [0, duration]. An
// unknown duration leaves the upper end open. While playing, the engine is
// paused for the write and resumed after ResumeDelay.
func (t *Transport) Seek(target float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.noScore("seek") {
		return
	}
	if !mathx.Finite(target) {
		t.log.WithField("target", target).Warn("transport: seek target is not finite, ignoring")
		return
	}
	if d := t.durationLocked(); d > 0 {
		target = mathx.Clamp(target, 0, d)
	} else if target < 0 {
		target = 0
	}
	// a seek inside the resume gap still counts as playing
	wasPlaying := t.playing || t.cancelResume != nil
	t.cancelPendingLocked()
	if t.playing {
		t.eng.Pause()
		t.playing = false
	}
	t.eng.SetPosition(target * t.speedLocked())
	t.current = target
	if !wasPlaying {
		return
	}
	t.resumeGen++
	gen := t.resumeGen
	t.cancelResume = t.sched(ResumeDelay, func() { t.resume(gen) })
}

func (t *Transport) resume(gen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.resumeGen || t.cancelResume == nil || t.eng == nil {
		return
	}
	t.cancelResume = nil
	t.eng.Play()
	t.playing = true
}

func (t *Transport) cancelPendingLocked() {
	if t.cancelResume != nil {
		t.cancelResume()
		t.cancelResume = nil
	}
	t.resumeGen++
}

// ResumePending reports whether a post-seek resume is scheduled.
func (t *Transport) ResumePending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelResume != nil
}

// SetTempo changes the playback speed. Invalid input keeps the last valid
// tempo.
func (t *Transport) SetTempo(bpm float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !mathx.Positive(bpm) {
		t.log.WithField("bpm", bpm).Warn("transport: invalid tempo, keeping previous")
		return
	}
	old := t.speedLocked()
	t.tempo = bpm
	speed := t.speedLocked()
	t.current = t.current * old / speed
	if t.eng != nil {
		t.eng.SetSpeed(speed)
	}
}

func (t *Transport) ToggleMetronome(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metronome = enabled
	if t.eng != nil {
		t.eng.SetMetronomeVolume(metronomeGain(enabled))
	}
}

func (t *Transport) Metronome() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metronome
}

func metronomeGain(on bool) float64 {
	if on {
		return 1
	}
	return 0
}

// SetInstrument pauses, rewrites every track to program and starts audio
// regeneration. Playback is not resumed afterwards.
func (t *Transport) SetInstrument(program int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.noScore("set-instrument") {
		return
	}
	if program < 0 || program > 127 {
		t.log.WithField("program", program).Warn("transport: program out of range, ignoring")
		return
	}
	t.cancelPendingLocked()
	if t.playing {
		t.eng.Pause()
		t.playing = false
	}
	t.regenerating = true
	t.eng.SetTrackInstrument(program)
	t.eng.Regenerate()
}

func (t *Transport) Regenerating() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regenerating
}

// OnPosition mirrors an engine position report (score time, milliseconds).
func (t *Transport) OnPosition(currentMs, endMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eng == nil {
		return
	}
	if mathx.Positive(endMs) {
		t.baseDuration = endMs / 1000
	}
	if mathx.Finite(currentMs) {
		t.current = mathx.NonNegative(currentMs/1000) / t.speedLocked()
	}
}

func (t *Transport) OnStateChanged(playing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eng == nil {
		return
	}
	if !playing && t.cancelResume != nil {
		// our own pause during a seek
		return
	}
	t.playing = playing
}

// OnRegenerated clears the regenerating flag once the engine reports the
// new audio is ready.
func (t *Transport) OnRegenerated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regenerating = false
	if t.eng != nil {
		if d := t.eng.BaseDuration(); mathx.Positive(d) {
			t.baseDuration = d
		}
	}
}

// OnBaseDuration records a new base duration reported by the engine.
func (t *Transport) OnBaseDuration(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseDuration = mathx.NonNegative(seconds)
}

// PlaybackSpeed is current tempo over original tempo, or 1 when either is
// unusable.
func (t *Transport) PlaybackSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speedLocked()
}

func (t *Transport) speedLocked() float64 {
	return Speed(t.tempo, t.originalTempo)
}

// Speed computes the playback-speed ratio.
func Speed(tempo, original float64) float64 {
	if !mathx.Positive(tempo) || !mathx.Positive(original) {
		return 1
	}
	return tempo / original
}

func (t *Transport) durationLocked() float64 {
	return Duration(t.baseDuration, t.speedLocked())
}

// Duration is base / speed, or 0 when the base is unknown.
func Duration(base, speed float64) float64 {
	if !mathx.Positive(base) {
		return 0
	}
	if !mathx.Positive(speed) {
		speed = 1
	}
	return base / speed
}

// State returns a sanitized snapshot: never NaN, never negative. A pending
// post-seek resume reports as playing.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.durationLocked()
	cur := mathx.NonNegative(t.current)
	if d > 0 && cur > d {
		cur = d
	}
	tempo := t.tempo
	if !mathx.Positive(tempo) {
		tempo = t.originalTempo
	}
	if !mathx.Positive(tempo) {
		tempo = score.DefaultTempo
	}
	return State{Playing: t.playing || t.cancelResume != nil, CurrentTime: cur, Duration: d, Tempo: tempo}
}

// OriginalTempo is the tempo the score was written at.
func (t *Transport) OriginalTempo() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mathx.Positive(t.originalTempo) {
		return t.originalTempo
	}
	return score.DefaultTempo
}
