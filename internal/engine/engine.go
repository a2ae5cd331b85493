// Package engine defines the contract both rendering/playback backends
// satisfy, and the events they report.
package engine

import (
	"context"

	"github.com/cbegin/scoresync-go/internal/layout"
	"github.com/cbegin/scoresync-go/internal/score"
)

type EventKind int

const (
	ScoreLoaded EventKind = iota
	RenderFinished
	PlayerReady
	AssetProgress
	PositionChanged
	StateChanged
	AssetRegenerated
	Error
)

func (k EventKind) String() string {
	switch k {
	case ScoreLoaded:
		return "score-loaded"
	case RenderFinished:
		return "render-finished"
	case PlayerReady:
		return "player-ready"
	case AssetProgress:
		return "asset-progress"
	case PositionChanged:
		return "position-changed"
	case StateChanged:
		return "state-changed"
	case AssetRegenerated:
		return "asset-regenerated"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one engine notification. Only the fields of its kind are set.
type Event struct {
	Kind EventKind

	Score *score.Score // ScoreLoaded

	Percent int // AssetProgress, 0-100

	// PositionChanged, in score time at the original tempo.
	CurrentTimeMs float64
	EndTimeMs     float64
	Tick          int

	Playing bool // StateChanged

	Err error // Error
}

type Listener func(Event)

// Engine is one score renderer paired with its audio player. An instance
// serves exactly one score; loading another score means a new instance.
//
// Times crossing this interface are seconds of score time at the score's
// own tempo map. Playback speed only changes how fast that time advances.
type Engine interface {
	// Load parses data, lays it out and starts loading audio assets.
	// ScoreLoaded fires before Load returns; RenderFinished and
	// PlayerReady follow asynchronously.
	Load(ctx context.Context, data []byte) error
	Subscribe(l Listener) (unsubscribe func())

	Score() *score.Score
	MeasureStartTicks() []int
	SetDisplayMode(mode score.DisplayMode)
	// SetTrackInstrument rewrites track programs and instrument
	// automations in the loaded score. It does not touch the audio.
	SetTrackInstrument(program int)

	// Layout re-lays the score for a content width and fires
	// RenderFinished when done.
	Layout(width float64)
	MeasureFragments() []layout.Fragment
	Draw(c layout.Canvas)
	ContentSize() (width, height float64)

	Play()
	Pause()
	SetPosition(seconds float64)
	Position() float64
	BaseDuration() float64
	SetSpeed(ratio float64)
	SetMetronomeVolume(v float64)
	// Regenerate rebuilds the playable audio after an instrument change
	// and fires AssetRegenerated when done.
	Regenerate()

	Close() error
}
