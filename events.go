package scoresync

import (
	"github.com/cbegin/scoresync-go/internal/engine"
	"github.com/cbegin/scoresync-go/internal/geometry"
	"github.com/cbegin/scoresync-go/internal/score"
	"github.com/cbegin/scoresync-go/internal/transport"
	"github.com/cbegin/scoresync-go/internal/viewer"
)

type (
	PlaybackState = transport.State
	MeasureBounds = geometry.Bounds
	DisplayMode   = score.DisplayMode
	View          = viewer.View
)

const (
	DisplayBoth      = score.DisplayBoth
	DisplayTabOnly   = score.DisplayTabOnly
	DisplayStaffOnly = score.DisplayStaffOnly
)

// EventKind names what a session Event reports.
type EventKind string

const (
	EventScoreLoaded      EventKind = "score-loaded"
	EventLoadFailed       EventKind = "load-failed"
	EventRenderFinished   EventKind = "render-finished"
	EventPlayerReady      EventKind = "player-ready"
	EventAssetProgress    EventKind = "asset-progress"
	EventPosition         EventKind = "position-changed"
	EventMeasureChanged   EventKind = "measure-changed"
	EventStateChanged     EventKind = "state-changed"
	EventAssetRegenerated EventKind = "asset-regenerated"
	EventError            EventKind = "error"
)

// Event is what subscribers and Watch receive after the session applied an
// engine notification.
type Event struct {
	Kind    EventKind     `json:"kind"`
	State   PlaybackState `json:"state"`
	Measure int           `json:"measure"`
	Percent int           `json:"percent,omitempty"`
	Message string        `json:"message,omitempty"`
	Err     error         `json:"-"`
}

func kindOf(k engine.EventKind) EventKind {
	return EventKind(k.String())
}
