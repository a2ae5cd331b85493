package scoresync

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/scoresync-go/internal/audio"
	"github.com/cbegin/scoresync-go/internal/config"
	"github.com/cbegin/scoresync-go/internal/fetch"
	"github.com/cbegin/scoresync-go/internal/score"
	"github.com/cbegin/scoresync-go/internal/viewer"
)

type Option func(*sessionConfig)

type sessionConfig struct {
	backend        Backend
	displayMode    DisplayMode
	sampleRate     int
	soundFont      string
	apiBase        string
	output         audio.OutputFactory
	fetcher        *fetch.Client
	factory        EngineFactory
	afterFunc      func(d time.Duration, fn func()) (cancel func())
	log            logrus.FieldLogger
	viewer         viewer.Settings
	resizeDebounce time.Duration
	tickInterval   time.Duration
	width          float64
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		backend:        BackendTab,
		displayMode:    score.DisplayBoth,
		sampleRate:     48000,
		output:         audio.NewNullOutput,
		factory:        NewEngine,
		afterFunc:      afterFunc,
		log:            logrus.StandardLogger(),
		viewer:         viewer.DefaultSettings(),
		resizeDebounce: 150 * time.Millisecond,
		width:          960,
	}
}

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func WithBackend(b Backend) Option {
	return func(cfg *sessionConfig) {
		cfg.backend = b
	}
}

func WithDisplayMode(mode DisplayMode) Option {
	return func(cfg *sessionConfig) {
		cfg.displayMode = mode
	}
}

func WithSampleRate(rate int) Option {
	return func(cfg *sessionConfig) {
		cfg.sampleRate = rate
	}
}

// WithSoundFont sets the bank the notation backend plays with.
func WithSoundFont(src string) Option {
	return func(cfg *sessionConfig) {
		cfg.soundFont = src
	}
}

// WithAPIBaseURL sets the base that file ids resolve against (/files/{id}).
func WithAPIBaseURL(base string) Option {
	return func(cfg *sessionConfig) {
		cfg.apiBase = base
	}
}

// WithOutput picks the audio sink. The default plays into a null output;
// audio.NewPlayer sends sound to the device.
func WithOutput(f audio.OutputFactory) Option {
	return func(cfg *sessionConfig) {
		cfg.output = f
	}
}

func WithFetcher(c *fetch.Client) Option {
	return func(cfg *sessionConfig) {
		cfg.fetcher = c
	}
}

func WithEngineFactory(f EngineFactory) Option {
	return func(cfg *sessionConfig) {
		cfg.factory = f
	}
}

// WithAfterFunc replaces the timer used for the post-seek resume.
func WithAfterFunc(f func(d time.Duration, fn func()) (cancel func())) Option {
	return func(cfg *sessionConfig) {
		cfg.afterFunc = f
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(cfg *sessionConfig) {
		cfg.log = log
	}
}

func WithViewerSettings(s viewer.Settings) Option {
	return func(cfg *sessionConfig) {
		cfg.viewer = s
	}
}

// WithResizeDebounce sets how long resizes settle before the score is laid
// out again.
func WithResizeDebounce(d time.Duration) Option {
	return func(cfg *sessionConfig) {
		cfg.resizeDebounce = d
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(cfg *sessionConfig) {
		cfg.tickInterval = d
	}
}

// WithConfig applies a loaded settings file. Options given after it win.
func WithConfig(c config.Config) Option {
	return func(cfg *sessionConfig) {
		if b, err := ParseBackend(c.Backend); err == nil {
			cfg.backend = b
		}
		cfg.displayMode = c.Mode()
		if c.SampleRate > 0 {
			cfg.sampleRate = c.SampleRate
		}
		cfg.soundFont = c.SoundFont
		cfg.apiBase = c.APIBaseURL
		cfg.viewer = viewer.Settings{
			CollapsedHeight: c.Viewer.CollapsedHeight,
			ScrollMargin:    c.Viewer.ScrollMargin,
			ScrollEpsilon:   c.Viewer.ScrollEpsilon,
		}
		cfg.resizeDebounce = c.ResizeDebounce()
	}
}

// LoadOption adjusts a single load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	midiURL string
	midi    []byte
}

// WithMIDIURL points the notation backend at a derived MIDI asset instead of
// generating one from the score.
func WithMIDIURL(u string) LoadOption {
	return func(cfg *loadConfig) {
		cfg.midiURL = u
	}
}

func WithMIDIData(data []byte) LoadOption {
	return func(cfg *loadConfig) {
		cfg.midi = data
	}
}
