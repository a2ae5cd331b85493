package main

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	scoresync "github.com/cbegin/scoresync-go"
	"github.com/cbegin/scoresync-go/internal/audio"
	"github.com/cbegin/scoresync-go/internal/config"
)

const (
	windowW    = 1180
	windowH    = 780
	minWindowW = 980
	minWindowH = 640
	wheelStep  = 40
)

type instrument struct {
	name    string
	program int
}

var instruments = []instrument{
	{"Nylon", 24},
	{"Steel", 25},
	{"Jazz", 26},
	{"Clean", 27},
	{"Muted", 28},
	{"Overdrive", 29},
	{"Distortion", 30},
	{"Bass", 33},
}

const (
	dragNone = iota
	dragSeek
	dragTempo
)

type game struct {
	session *scoresync.Session
	events  <-chan scoresync.Event
	ctx     context.Context
	log     logrus.FieldLogger
	cfg     config.Config

	view     scoresync.View
	sheetImg *ebiten.Image
	sheet    image.Point

	dragging  int
	seekValue float64
	instIdx   int

	status    string
	statusErr bool

	cwd        string
	nav        []navEntry
	navScroll  int
	loadedPath string

	textCache map[string]*ebiten.Image
	viewW     int
	viewH     int
}

func newGame(ctx context.Context, cfg config.Config, log logrus.FieldLogger, cwd string) (*game, error) {
	s := scoresync.New(
		scoresync.WithConfig(cfg),
		scoresync.WithLogger(log),
		scoresync.WithOutput(audio.NewPlayer),
	)
	g := &game{
		session:   s,
		events:    s.Watch(),
		ctx:       ctx,
		log:       log,
		cfg:       cfg,
		instIdx:   -1,
		status:    "Select a score to practice.",
		cwd:       cwd,
		textCache: make(map[string]*ebiten.Image, 1024),
		viewW:     windowW,
		viewH:     windowH,
	}
	if err := g.refreshNav(); err != nil {
		g.setError(err.Error())
	}
	g.view = s.View()
	return g, nil
}

func (g *game) Update() error {
	g.session.Pump()
	g.pollEvents()
	g.view = g.session.View()
	l := g.layoutRects()
	g.syncViewport(l.sheet)
	g.handleKeys()
	g.handleMouse(l)
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	l := g.layoutRects()
	v := g.view
	c := v.Controls

	g.drawSunkenPanel(screen, l.nav)
	g.drawNavigator(screen, l.nav)
	g.drawSheet(screen, l.sheet)

	g.drawButton(screen, l.play, g.playLabel(), c.TransportEnabled, false)
	g.drawButton(screen, l.stop, "Stop", c.TransportEnabled, false)
	g.drawButton(screen, l.metronome, "Click", c.TransportEnabled, g.session.Metronome())
	g.drawButton(screen, l.instrument, g.instrumentLabel(), c.InstrumentEnabled, false)
	collapse := "Expand"
	if !v.Collapsed {
		collapse = "Collapse"
	}
	g.drawButton(screen, l.collapse, collapse, true, false)

	seek := c.SeekValue
	if g.dragging == dragSeek {
		seek = g.seekValue
	}
	seekFrac := 0.0
	if c.SeekMax > 0 {
		seekFrac = seek / c.SeekMax
	}
	g.drawSlider(screen, l.seek, fmt.Sprintf("%s/%s", clock(seek), clock(c.SeekMax)), seekFrac, c.SeekEnabled)
	tempoFrac := 0.0
	if c.TempoMax > c.TempoMin {
		tempoFrac = (c.TempoValue - c.TempoMin) / (c.TempoMax - c.TempoMin)
	}
	g.drawSlider(screen, l.tempo, fmt.Sprintf("%3.0f BPM", c.TempoValue), tempoFrac, c.TransportEnabled)

	g.drawSunkenPanel(screen, l.status)
	g.drawStatus(screen, l.status)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	g.viewW = max(outsideW, minWindowW)
	g.viewH = max(outsideH, minWindowH)
	return g.viewW, g.viewH
}

type uiLayout struct {
	nav, sheet                                  image.Rectangle
	play, stop, metronome, instrument, collapse image.Rectangle
	seek, tempo, status                         image.Rectangle
}

func (g *game) layoutRects() uiLayout {
	w, h := g.viewW, g.viewH
	pad, rowH, statusH := 20, 44, 40

	statusTop := h - pad - statusH
	sliderTop := statusTop - 8 - rowH
	buttonTop := sliderTop - 8 - rowH
	contentBottom := buttonTop - 12

	navRect := image.Rect(pad, pad, pad+260, contentBottom)
	sheetX := navRect.Max.X + 12
	sheetBottom := contentBottom
	if g.view.Collapsed {
		sheetBottom = min(contentBottom, pad+int(g.cfg.Viewer.CollapsedHeight)+6)
	}
	sheetRect := image.Rect(sheetX, pad, w-pad, sheetBottom)

	bw := 150
	button := func(i int) image.Rectangle {
		x := pad + i*(bw+12)
		return image.Rect(x, buttonTop, x+bw, buttonTop+rowH)
	}
	half := (w - 2*pad - 12) / 2
	return uiLayout{
		nav:        navRect,
		sheet:      sheetRect,
		play:       button(0),
		stop:       button(1),
		metronome:  button(2),
		instrument: button(3),
		collapse:   button(4),
		seek:       image.Rect(pad, sliderTop, pad+half, sliderTop+rowH),
		tempo:      image.Rect(pad+half+12, sliderTop, w-pad, sliderTop+rowH),
		status:     image.Rect(pad, statusTop, w-pad, statusTop+statusH),
	}
}

// syncViewport reports the full sheet area to the session whenever the
// window changes. The viewer applies the collapsed height itself.
func (g *game) syncViewport(sheet image.Rectangle) {
	full := image.Pt(sheet.Dx()-6, g.layoutFullHeight()-6)
	if full == g.sheet || full.X <= 0 || full.Y <= 0 {
		return
	}
	g.sheet = full
	g.session.Resize(float64(full.X), float64(full.Y))
}

func (g *game) layoutFullHeight() int {
	l := g.view.Collapsed
	g.view.Collapsed = false
	h := g.layoutRects().sheet.Dy()
	g.view.Collapsed = l
	return h
}

func (g *game) pollEvents() {
	for {
		select {
		case ev := <-g.events:
			switch ev.Kind {
			case scoresync.EventScoreLoaded:
				if sc := g.session.Score(); sc != nil {
					g.setStatus(fmt.Sprintf("%s: %d measures", sc.Title, len(sc.MasterBars)))
				}
			case scoresync.EventLoadFailed, scoresync.EventError:
				g.setError(ev.Message)
			case scoresync.EventAssetProgress:
				g.setStatus(fmt.Sprintf("Loading instrument %d%%", ev.Percent))
			case scoresync.EventPlayerReady:
				g.setStatus("Ready")
			case scoresync.EventAssetRegenerated:
				if !g.statusErr {
					g.setStatus("Instrument: " + g.instrumentLabel())
				}
			case scoresync.EventMeasureChanged:
				if !g.statusErr {
					g.setStatus(fmt.Sprintf("Measure %d", ev.Measure+1))
				}
			}
		default:
			return
		}
	}
}

func (g *game) handleKeys() {
	if !g.view.Controls.TransportEnabled {
		return
	}
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		g.togglePlay()
	case inpututil.IsKeyJustPressed(ebiten.KeyHome):
		g.session.Stop()
	case inpututil.IsKeyJustPressed(ebiten.KeyM):
		g.session.ToggleMetronome(!g.session.Metronome())
	case inpututil.IsKeyJustPressed(ebiten.KeyEscape):
		g.session.DismissError()
		g.statusErr = false
	}
}

func (g *game) handleMouse(l uiLayout) {
	mx, my := ebiten.CursorPosition()
	c := g.view.Controls

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		switch {
		case pointInRect(mx, my, l.play) && c.TransportEnabled:
			g.togglePlay()
		case pointInRect(mx, my, l.stop) && c.TransportEnabled:
			g.session.Stop()
		case pointInRect(mx, my, l.metronome) && c.TransportEnabled:
			g.session.ToggleMetronome(!g.session.Metronome())
		case pointInRect(mx, my, l.instrument) && c.InstrumentEnabled:
			g.cycleInstrument()
		case pointInRect(mx, my, l.collapse):
			g.session.SetCollapsed(!g.view.Collapsed)
		case pointInRect(mx, my, l.seek) && c.SeekEnabled:
			g.dragging = dragSeek
		case pointInRect(mx, my, l.tempo) && c.TransportEnabled:
			g.dragging = dragTempo
		case pointInRect(mx, my, l.nav):
			g.clickNavigator(my, l.nav)
		}
	}

	switch g.dragging {
	case dragSeek:
		g.seekValue = sliderFrac(mx, l.seek) * c.SeekMax
	case dragTempo:
		bpm := math.Round(c.TempoMin + sliderFrac(mx, l.tempo)*(c.TempoMax-c.TempoMin))
		if bpm != math.Round(c.TempoValue) {
			g.session.SetTempo(bpm)
		}
	}
	if !ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		if g.dragging == dragSeek {
			g.session.Seek(g.seekValue)
		}
		g.dragging = dragNone
	}

	if wx, wy := ebiten.Wheel(); wx != 0 || wy != 0 {
		switch {
		case pointInRect(mx, my, l.nav):
			g.navScroll = max(0, g.navScroll-int(wy*2))
		case pointInRect(mx, my, l.sheet) && !g.view.Collapsed:
			g.session.ScrollBy(-wx*wheelStep, -wy*wheelStep)
		}
	}
}

func (g *game) togglePlay() {
	if g.view.State.Playing {
		g.session.Pause()
		return
	}
	g.session.Play()
}

func (g *game) playLabel() string {
	if g.view.State.Playing {
		return "Pause"
	}
	return "Play"
}

func (g *game) cycleInstrument() {
	g.instIdx = (g.instIdx + 1) % len(instruments)
	g.session.SetInstrument(instruments[g.instIdx].program)
	g.setStatus("Switching to " + instruments[g.instIdx].name + "...")
}

func (g *game) instrumentLabel() string {
	if g.instIdx < 0 {
		return "Score"
	}
	return instruments[g.instIdx].name
}

func (g *game) load(path string) {
	g.loadedPath = path
	g.instIdx = -1
	g.setStatus("Loading " + filepath.Base(path))
	go func() {
		// failures arrive as EventLoadFailed
		_ = g.session.LoadScore(g.ctx, path)
	}()
}

func (g *game) drawStatus(screen *ebiten.Image, rect image.Rectangle) {
	msg := "Status: " + g.status
	if g.statusErr {
		msg = "Status: ERROR - " + g.status
	}
	g.drawText(screen, shortenEnd(msg, max(8, (rect.Dx()-16)/charW)), rect.Min.X+8, rect.Min.Y+6)
}

func (g *game) setError(msg string) {
	g.status = msg
	g.statusErr = true
}

func (g *game) setStatus(msg string) {
	g.status = msg
	g.statusErr = false
}

func clock(seconds float64) string {
	s := int(math.Max(0, seconds))
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func main() {
	var configPath, backend string
	cmd := &cobra.Command{
		Use:   "scoresync_ui [score]",
		Short: "Practice window with synchronized score and playback",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, !cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if backend != "" {
				cfg.Backend = backend
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			log := logrus.New()
			log.SetLevel(cfg.Level())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			var initial string
			if len(args) == 1 {
				if initial, err = filepath.Abs(args[0]); err != nil {
					return err
				}
				cwd = filepath.Dir(initial)
			}
			g, err := newGame(ctx, cfg, log, cwd)
			if err != nil {
				return err
			}
			defer g.session.Close()
			if initial != "" {
				g.load(initial)
			}

			ebiten.SetWindowSize(windowW, windowH)
			ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
			ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
			ebiten.SetWindowTitle("scoresync")
			return ebiten.RunGame(g)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "scoresync.yaml", "settings file")
	cmd.Flags().StringVar(&backend, "backend", "", "renderer backend: tab|notation")
	cobra.CheckErr(cmd.Execute())
}
