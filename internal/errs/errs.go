// Package errs holds the error taxonomy shared by the loaders, engines and
// the session: load, render and playback-engine failures, each carrying a
// user-facing message next to the internal one.
package errs

import (
	"errors"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

const (
	KindLoad     ftag.Kind = "LOAD_ERROR"
	KindRender   ftag.Kind = "RENDER_ERROR"
	KindPlayback ftag.Kind = "PLAYBACK_ENGINE_ERROR"
)

// Load wraps a fetch or parse failure. A nil err produces a fresh error
// from the message alone.
func Load(err error, internal, user string) error {
	return wrap(err, KindLoad, internal, user)
}

func Render(err error, internal, user string) error {
	return wrap(err, KindRender, internal, user)
}

func Playback(err error, internal, user string) error {
	return wrap(err, KindPlayback, internal, user)
}

func wrap(err error, kind ftag.Kind, internal, user string) error {
	if err == nil {
		return fault.New(internal, fmsg.WithDesc(internal, user), ftag.With(kind))
	}
	return fault.Wrap(err, fmsg.WithDesc(internal, user), ftag.With(kind))
}

// Is reports whether err was tagged with kind anywhere in its chain.
func Is(err error, kind ftag.Kind) bool {
	if err == nil {
		return false
	}
	return ftag.Get(err) == kind
}

// KindOf returns the kind err was tagged with, or "" when untagged.
func KindOf(err error) ftag.Kind {
	if err == nil {
		return ""
	}
	return ftag.Get(err)
}

// Message returns the user-facing description of err, falling back to the
// plain error text when no description was attached.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if issue := fmsg.GetIssue(err); issue != "" {
		return issue
	}
	return err.Error()
}

// ErrNoScore is reported when a playback operation runs before a score loaded.
var ErrNoScore = errors.New("no score loaded")
