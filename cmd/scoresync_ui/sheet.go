package main

import (
	"image"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/cbegin/scoresync-go/internal/geometry"
)

var (
	paperColor     = color.RGBA{250, 248, 240, 255}
	inkColor       = color.RGBA{20, 20, 28, 255}
	measureHiColor = color.RGBA{255, 214, 90, 110}
)

// sheetCanvas draws layout primitives onto the sheet image, shifted by the
// viewer's scroll offset.
type sheetCanvas struct {
	dst    *ebiten.Image
	dx, dy float32
}

func (c *sheetCanvas) Line(x1, y1, x2, y2 float64) {
	vector.StrokeLine(c.dst, float32(x1)+c.dx, float32(y1)+c.dy, float32(x2)+c.dx, float32(y2)+c.dy, 1, inkColor, true)
}

func (c *sheetCanvas) Rect(x, y, w, h float64, fill bool) {
	if fill {
		vector.DrawFilledRect(c.dst, float32(x)+c.dx, float32(y)+c.dy, float32(w), float32(h), inkColor, true)
		return
	}
	vector.StrokeRect(c.dst, float32(x)+c.dx, float32(y)+c.dy, float32(w), float32(h), 1, inkColor, true)
}

func (c *sheetCanvas) Circle(x, y, r float64, fill bool) {
	if fill {
		vector.DrawFilledCircle(c.dst, float32(x)+c.dx, float32(y)+c.dy, float32(r), inkColor, true)
		return
	}
	vector.StrokeCircle(c.dst, float32(x)+c.dx, float32(y)+c.dy, float32(r), 1, inkColor, true)
}

// Text is anchored on its baseline; the debug font is anchored top-left.
func (c *sheetCanvas) Text(x, y float64, s string) {
	img := ebiten.NewImage(max(1, len([]rune(s))*6+2), 16)
	ebitenutil.DebugPrintAt(img, s, 0, 0)
	op := &ebiten.DrawImageOptions{}
	op.ColorScale.Scale(0.08, 0.08, 0.11, 1)
	op.GeoM.Translate(x+float64(c.dx), y+float64(c.dy)-11)
	c.dst.DrawImage(img, op)
	img.Deallocate()
}

// drawSheet renders the score area: paper, measure highlight, then the
// layout itself.
func (g *game) drawSheet(screen *ebiten.Image, rect image.Rectangle) {
	g.drawSunkenPanel(screen, rect)
	inner := rect.Inset(3)
	if inner.Dx() <= 0 || inner.Dy() <= 0 {
		return
	}
	if g.sheetImg == nil || g.sheetImg.Bounds().Size() != inner.Size() {
		if g.sheetImg != nil {
			g.sheetImg.Deallocate()
		}
		g.sheetImg = ebiten.NewImage(inner.Dx(), inner.Dy())
	}
	img := g.sheetImg
	v := g.view
	if v.Phase != "ready" {
		img.Fill(sunkenBgColor)
		g.drawText(img, shortenEnd(v.Placeholder, max(8, (inner.Dx()-16)/charW)), 8, 8)
		g.blit(screen, img, inner)
		return
	}

	img.Fill(paperColor)
	c := &sheetCanvas{dst: img, dx: float32(-v.ScrollX), dy: float32(-v.ScrollY)}
	if h := v.Highlight; h != nil {
		drawHighlight(c, *h)
	}
	g.session.Draw(c)
	if v.Placeholder != "" {
		msg := shortenEnd(v.Placeholder, max(8, (inner.Dx()-24)/charW))
		fillRect(img, image.Rect(4, 4, 20+len([]rune(msg))*charW, 8+lineH), highlightColor)
		g.drawText(img, msg, 10, 6)
	}
	g.blit(screen, img, inner)
}

func drawHighlight(c *sheetCanvas, b geometry.Bounds) {
	vector.DrawFilledRect(c.dst, float32(b.X)+c.dx, float32(b.Y)+c.dy, float32(b.Width), float32(b.Height), measureHiColor, false)
}

func (g *game) blit(screen, img *ebiten.Image, at image.Rectangle) {
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(at.Min.X), float64(at.Min.Y))
	screen.DrawImage(img, op)
}
