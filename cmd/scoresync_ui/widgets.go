package main

import (
	"image"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

const (
	textScale = 2
	charW     = 7 * textScale
	lineH     = 14 * textScale
)

var (
	bgColor         = color.RGBA{192, 192, 192, 255}
	panelColor      = color.RGBA{192, 192, 192, 255}
	borderColor     = color.RGBA{128, 128, 128, 255}
	highlightColor  = color.RGBA{0, 0, 128, 255}
	bevelLight      = color.RGBA{255, 255, 255, 255}
	bevelDarker     = color.RGBA{64, 64, 64, 255}
	sunkenBgColor   = color.RGBA{24, 24, 32, 255}
	sliderFillColor = color.RGBA{0, 0, 128, 255}
	disabledColor   = color.RGBA{150, 150, 150, 255}
)

func fillRect(dst *ebiten.Image, r image.Rectangle, clr color.Color) {
	ebitenutil.DrawRect(dst, float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()), clr)
}

func (g *game) drawPanel(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, panelColor)
	drawBorder(screen, rect)
}

func (g *game) drawSunkenPanel(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, sunkenBgColor)
	drawSunkenBorder(screen, rect)
}

func (g *game) drawButton(screen *ebiten.Image, rect image.Rectangle, label string, enabled, pressed bool) {
	fill := panelColor
	if !enabled {
		fill = disabledColor
	}
	fillRect(screen, rect, fill)
	if pressed {
		drawSunkenBorder(screen, rect)
	} else {
		drawBorder(screen, rect)
	}
	label = shortenEnd(label, max(1, (rect.Dx()-8)/charW))
	labelW := len([]rune(label)) * charW
	g.drawText(screen, label, rect.Min.X+(rect.Dx()-labelW)/2, rect.Min.Y+(rect.Dy()-lineH)/2)
}

// drawSlider draws a labelled track with a raised knob at frac.
func (g *game) drawSlider(screen *ebiten.Image, rect image.Rectangle, label string, frac float64, enabled bool) {
	g.drawPanel(screen, rect)
	g.drawText(screen, label, rect.Min.X+8, rect.Min.Y+8)
	track := sliderTrack(rect)
	if track.Dx() < 20 {
		return
	}
	ebitenutil.DrawRect(screen, float64(track.Min.X), float64(track.Min.Y), float64(track.Dx()), 8, bevelDarker)
	ebitenutil.DrawRect(screen, float64(track.Min.X), float64(track.Min.Y), float64(track.Dx()-1), 1, borderColor)
	ebitenutil.DrawRect(screen, float64(track.Min.X), float64(track.Min.Y), 1, 7, borderColor)
	fillW := int(float64(track.Dx()) * clamp(frac, 0, 1))
	if enabled && fillW > 2 {
		ebitenutil.DrawRect(screen, float64(track.Min.X+1), float64(track.Min.Y+1), float64(fillW-1), 6, sliderFillColor)
	}
	knobX := track.Min.X + fillW - 5
	knobX = max(track.Min.X-5, min(knobX, track.Max.X-5))
	knob := image.Rect(knobX, track.Min.Y-4, knobX+10, track.Min.Y+12)
	if enabled {
		fillRect(screen, knob, panelColor)
	} else {
		fillRect(screen, knob, disabledColor)
	}
	drawBorder(screen, knob)
}

// sliderTrack is the draggable part of a slider rect, right of its label.
func sliderTrack(rect image.Rectangle) image.Rectangle {
	x := rect.Min.X + 170
	y := rect.Min.Y + rect.Dy()/2 - 4
	return image.Rect(x, y, rect.Max.X-16, y+8)
}

func sliderFrac(mx int, rect image.Rectangle) float64 {
	t := sliderTrack(rect)
	if t.Dx() <= 0 {
		return 0
	}
	return clamp(float64(mx-t.Min.X)/float64(t.Dx()), 0, 1)
}

// drawBorder draws a raised bevel.
func drawBorder(screen *ebiten.Image, rect image.Rectangle) {
	x := float64(rect.Min.X)
	y := float64(rect.Min.Y)
	w := float64(rect.Dx())
	h := float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, bevelLight)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, bevelLight)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelDarker)
	ebitenutil.DrawRect(screen, x+1, y+h-2, w-3, 1, borderColor)
	ebitenutil.DrawRect(screen, x+w-2, y+1, 1, h-3, borderColor)
}

// drawSunkenBorder draws a sunken bevel.
func drawSunkenBorder(screen *ebiten.Image, rect image.Rectangle) {
	x := float64(rect.Min.X)
	y := float64(rect.Min.Y)
	w := float64(rect.Dx())
	h := float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, borderColor)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, borderColor)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelLight)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelLight)
	ebitenutil.DrawRect(screen, x+1, y+1, w-3, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+1, y+2, 1, h-4, bevelDarker)
}

// drawText prints msg with an embossed shadow, caching the glyph images.
func (g *game) drawText(screen *ebiten.Image, msg string, x int, y int) {
	if msg == "" {
		return
	}
	img := g.textCache[msg]
	if img == nil {
		img = ebiten.NewImage(max(1, len([]rune(msg))*7), 14)
		ebitenutil.DebugPrintAt(img, msg, 0, 0)
		if len(g.textCache) > 3000 {
			g.textCache = make(map[string]*ebiten.Image, 1024)
		}
		g.textCache[msg] = img
	}
	opS := &ebiten.DrawImageOptions{}
	opS.GeoM.Scale(textScale, textScale)
	opS.GeoM.Translate(float64(x+2), float64(y+2))
	opS.ColorScale.Scale(0, 0, 0, 1)
	screen.DrawImage(img, opS)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(textScale, textScale)
	op.GeoM.Translate(float64(x), float64(y))
	screen.DrawImage(img, op)
}

func shortenEnd(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		return string(r[:max(0, maxChars)])
	}
	return string(r[:maxChars-3]) + "..."
}

func shortenMiddle(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	if maxChars <= 7 {
		return shortenEnd(s, maxChars)
	}
	left := (maxChars - 3) / 2
	right := maxChars - 3 - left
	return string(r[:left]) + "..." + string(r[len(r)-right:])
}

func clamp(v, minV, maxV float64) float64 {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

func pointInRect(x, y int, rect image.Rectangle) bool {
	return x >= rect.Min.X && x < rect.Max.X && y >= rect.Min.Y && y < rect.Max.Y
}
