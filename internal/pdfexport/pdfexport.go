// Package pdfexport prints a laid-out score as a paginated practice sheet.
package pdfexport

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/jung-kurt/gofpdf"

	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/layout"
)

type Options struct {
	PageSize    string  // gofpdf size name: "A4", "Letter", ...
	Orientation string  // "P" or "L"
	Margin      float64 // millimetres
	TextSize    float64 // layout pixels
	PageNumbers bool
}

func DefaultOptions() Options {
	return Options{PageSize: "A4", Orientation: "P", Margin: 12, TextSize: 9, PageNumbers: true}
}

// Span is the vertical slice of the layout printed on one page.
type Span struct {
	Top, Bottom float64
}

// Paginate splits l into page-sized spans, breaking only between systems.
// A system taller than a page gets a page of its own.
func Paginate(l *layout.Layout, pageHeight float64) []Span {
	if l == nil || len(l.Systems) == 0 || pageHeight <= 0 {
		return nil
	}
	var spans []Span
	top := 0.0
	for i := range l.Systems {
		sys := l.Systems[i]
		bottom := sys.Y + sys.Height
		if i+1 < len(l.Systems) {
			bottom = (bottom + l.Systems[i+1].Y) / 2
		} else {
			bottom = math.Max(bottom, l.Height)
		}
		if bottom-top > pageHeight && i > 0 && sys.Y > top {
			cut := (l.Systems[i-1].Y + l.Systems[i-1].Height + sys.Y) / 2
			spans = append(spans, Span{Top: top, Bottom: cut})
			top = cut
		}
	}
	return append(spans, Span{Top: top, Bottom: math.Max(l.Height, top)})
}

// pageCanvas maps layout pixels onto one page and drops shapes anchored
// outside its span.
type pageCanvas struct {
	pdf    *gofpdf.Fpdf
	tr     func(string) string
	span   Span
	scale  float64
	margin float64
}

func (c *pageCanvas) in(y float64) bool   { return y >= c.span.Top && y < c.span.Bottom }
func (c *pageCanvas) x(v float64) float64 { return c.margin + v*c.scale }
func (c *pageCanvas) y(v float64) float64 { return c.margin + (v-c.span.Top)*c.scale }

func style(fill bool) string {
	if fill {
		return "F"
	}
	return "D"
}

func (c *pageCanvas) Line(x1, y1, x2, y2 float64) {
	if c.in(y1) {
		c.pdf.Line(c.x(x1), c.y(y1), c.x(x2), c.y(y2))
	}
}

func (c *pageCanvas) Rect(x, y, w, h float64, fill bool) {
	if c.in(y) {
		c.pdf.Rect(c.x(x), c.y(y), w*c.scale, h*c.scale, style(fill))
	}
}

func (c *pageCanvas) Circle(x, y, r float64, fill bool) {
	if c.in(y) {
		c.pdf.Circle(c.x(x), c.y(y), r*c.scale, style(fill))
	}
}

func (c *pageCanvas) Text(x, y float64, s string) {
	if c.in(y) {
		c.pdf.Text(c.x(x), c.y(y), c.tr(s))
	}
}

// Write renders l to w and returns the number of pages.
func Write(w io.Writer, l *layout.Layout, opts Options) (int, error) {
	if l == nil || len(l.Systems) == 0 {
		return 0, errs.Render(errors.New("empty layout"), "export pdf", "There is nothing to print.")
	}
	if l.Width <= 0 {
		return 0, errs.Render(fmt.Errorf("layout width %v", l.Width), "export pdf", "There is nothing to print.")
	}
	def := DefaultOptions()
	if opts.PageSize == "" {
		opts.PageSize = def.PageSize
	}
	if opts.Orientation == "" {
		opts.Orientation = def.Orientation
	}
	if opts.TextSize <= 0 {
		opts.TextSize = def.TextSize
	}

	pdf := gofpdf.New(opts.Orientation, "mm", opts.PageSize, "")
	pdf.SetMargins(opts.Margin, opts.Margin, opts.Margin)
	pdf.SetAutoPageBreak(false, 0)
	pw, ph := pdf.GetPageSize()
	scale := (pw - 2*opts.Margin) / l.Width
	if scale <= 0 {
		return 0, errs.Render(fmt.Errorf("margin %v leaves no room", opts.Margin), "export pdf", "The page margins are too large.")
	}
	usable := (ph - 2*opts.Margin) / scale

	const ptPerMM = 72 / 25.4
	pdf.SetFont("Helvetica", "", opts.TextSize*scale*ptPerMM)
	pdf.SetLineWidth(math.Max(0.1, 0.6*scale))
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	spans := Paginate(l, usable)
	if opts.PageNumbers {
		pdf.SetFooterFunc(func() {
			pdf.SetY(-opts.Margin + 2)
			pdf.SetFontSize(8)
			pdf.CellFormat(0, 6, fmt.Sprintf("%d / %d", pdf.PageNo(), len(spans)), "", 0, "C", false, 0, "")
			pdf.SetFontSize(opts.TextSize * scale * ptPerMM)
		})
	}
	for _, sp := range spans {
		pdf.AddPage()
		l.Draw(&pageCanvas{pdf: pdf, tr: tr, span: sp, scale: scale, margin: opts.Margin})
	}
	if err := pdf.Output(w); err != nil {
		return 0, errs.Render(err, "export pdf", "The PDF could not be written.")
	}
	return len(spans), nil
}
