package scoresync

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/scoresync-go/internal/audio"
	"github.com/cbegin/scoresync-go/internal/backend/notation"
	"github.com/cbegin/scoresync-go/internal/backend/tab"
	"github.com/cbegin/scoresync-go/internal/engine"
	"github.com/cbegin/scoresync-go/internal/fetch"
	"github.com/cbegin/scoresync-go/internal/synth"
)

// Backend selects which rendering/playback engine a session builds.
type Backend string

const (
	BackendNotation Backend = "notation"
	BackendTab      Backend = "tab"
)

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendNotation, BackendTab:
		return b, nil
	case "":
		return BackendTab, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want notation or tab)", s)
	}
}

// EngineConfig is what a session hands the engine factory for one load.
type EngineConfig struct {
	SampleRate   int
	DisplayMode  DisplayMode
	SoundFont    string // path or URL of the SoundFont bank
	MIDI         []byte // derived MIDI asset, notation backend only
	Output       audio.OutputFactory
	Fetcher      *fetch.Client
	Logger       logrus.FieldLogger
	TickInterval time.Duration
	Width        float64
}

// EngineFactory builds a fresh engine. A session never reuses an engine
// across loads.
type EngineFactory func(b Backend, cfg EngineConfig) (engine.Engine, error)

// NewEngine is the default factory.
func NewEngine(b Backend, cfg EngineConfig) (engine.Engine, error) {
	switch b {
	case BackendNotation:
		var open notation.SoundFontOpener
		if cfg.SoundFont != "" {
			client := cfg.Fetcher
			if client == nil {
				client = fetch.New()
			}
			src := cfg.SoundFont
			open = func(ctx context.Context) (io.ReadCloser, int64, error) {
				return client.Open(ctx, src)
			}
		}
		return notation.New(notation.Options{
			SampleRate:   cfg.SampleRate,
			DisplayMode:  cfg.DisplayMode,
			SoundFont:    open,
			MIDI:         cfg.MIDI,
			Output:       cfg.Output,
			Logger:       cfg.Logger,
			TickInterval: cfg.TickInterval,
			Width:        cfg.Width,
		}), nil
	case BackendTab:
		return tab.New(tab.Options{
			SampleRate:   cfg.SampleRate,
			DisplayMode:  cfg.DisplayMode,
			Synth:        synth.DefaultParams(),
			Output:       cfg.Output,
			Logger:       cfg.Logger,
			TickInterval: cfg.TickInterval,
			Width:        cfg.Width,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", b)
	}
}
