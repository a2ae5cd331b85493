// Package config reads the YAML settings file shared by the CLI, the
// practice window and the server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/scoresync-go/internal/score"
)

type Viewer struct {
	CollapsedHeight  float64 `yaml:"collapsed_height"`
	ScrollMargin     float64 `yaml:"scroll_margin"`
	ScrollEpsilon    float64 `yaml:"scroll_epsilon"`
	ResizeDebounceMs int     `yaml:"resize_debounce_ms"`
}

type Config struct {
	APIBaseURL  string `yaml:"api_base_url"`
	SoundFont   string `yaml:"soundfont"`
	Backend     string `yaml:"backend"`
	DisplayMode string `yaml:"display_mode"`
	SampleRate  int    `yaml:"sample_rate"`
	Listen      string `yaml:"listen"`
	LogLevel    string `yaml:"log_level"`
	Viewer      Viewer `yaml:"viewer"`
}

func Default() Config {
	return Config{
		APIBaseURL:  "http://localhost:8000/api",
		Backend:     "tab",
		DisplayMode: "both",
		SampleRate:  48000,
		Listen:      ":8088",
		LogLevel:    "info",
		Viewer: Viewer{
			CollapsedHeight:  320,
			ScrollMargin:     16,
			ScrollEpsilon:    2,
			ResizeDebounceMs: 150,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case "tab", "notation":
	default:
		return fmt.Errorf("unknown backend %q (want tab or notation)", c.Backend)
	}
	if _, err := score.ParseDisplayMode(c.DisplayMode); err != nil {
		return err
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate %d out of range", c.SampleRate)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Viewer.CollapsedHeight <= 0 || c.Viewer.ScrollMargin < 0 || c.Viewer.ScrollEpsilon < 0 || c.Viewer.ResizeDebounceMs < 0 {
		return errors.New("viewer settings must be non-negative and collapsed_height positive")
	}
	return nil
}

func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (c Config) ResizeDebounce() time.Duration {
	return time.Duration(c.Viewer.ResizeDebounceMs) * time.Millisecond
}

func (c Config) Mode() score.DisplayMode {
	m, _ := score.ParseDisplayMode(c.DisplayMode)
	return m
}
