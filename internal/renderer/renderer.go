// Package renderer encodes label documents into single-page raster artifacts
package renderer

import (
	"bytes"
	"fmt"
	"image/color"
	"os"

	"github.com/fogleman/gg"

	"github.com/smartpneu/label-engine/internal/label"
)

// PxPerMM is the raster density of rendered artifacts. 12 px/mm keeps the
// 30 mm QR zone well above scanner resolution.
const PxPerMM = 12.0

// RenderError reports an encoding or layout failure inside the renderer.
// Fatal to the affected job, never to the caller's transaction.
type RenderError struct {
	Op  string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Op, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Renderer rasterizes label documents. Safe for concurrent use; every Render
// call works on its own drawing context.
type Renderer struct {
	fontPath     string
	fontBoldPath string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithFonts overrides the regular and bold font faces.
func WithFonts(regular, bold string) Option {
	return func(r *Renderer) {
		r.fontPath = regular
		r.fontBoldPath = bold
	}
}

// New creates a renderer. Without options it falls back to common system
// font locations.
func New(opts ...Option) *Renderer {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	if r.fontPath == "" {
		r.fontPath = findSystemFont(systemFonts)
	}
	if r.fontBoldPath == "" {
		r.fontBoldPath = findSystemFont(systemBoldFonts)
		if r.fontBoldPath == "" {
			r.fontBoldPath = r.fontPath
		}
	}
	return r
}

var systemFonts = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"C:\\Windows\\Fonts\\arial.ttf",
}

var systemBoldFonts = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
	"/System/Library/Fonts/Supplemental/Arial Bold.ttf",
	"C:\\Windows\\Fonts\\arialbd.ttf",
}

func findSystemFont(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Render rasterizes a document into a single-page PNG. Identical documents
// yield data-identical output; the page carries the exact physical size the
// document declares.
func (r *Renderer) Render(doc *label.Document) ([]byte, error) {
	widthPx := int(doc.WidthMM * PxPerMM)
	heightPx := int(doc.HeightMM * PxPerMM)

	ctx := gg.NewContext(widthPx, heightPx)
	ctx.SetColor(color.White)
	ctx.Clear()

	for i := range doc.Primitives {
		if err := r.renderPrimitive(ctx, &doc.Primitives[i]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := ctx.EncodePNG(&buf); err != nil {
		return nil, &RenderError{Op: "encode page", Err: err}
	}
	return buf.Bytes(), nil
}

func (r *Renderer) renderPrimitive(ctx *gg.Context, p *label.Primitive) error {
	switch p.Kind {
	case label.KindRect:
		return renderRect(ctx, p)
	case label.KindText:
		return r.renderText(ctx, p)
	case label.KindLine:
		return renderLine(ctx, p)
	case label.KindQRCode:
		return renderQRCode(ctx, p)
	case label.KindBarcode:
		return renderBarcode(ctx, p)
	default:
		return &RenderError{Op: "dispatch", Err: fmt.Errorf("unsupported primitive kind %q", p.Kind)}
	}
}

func renderRect(ctx *gg.Context, p *label.Primitive) error {
	c, err := parseHexColor(p.Color)
	if err != nil {
		return &RenderError{Op: "rect", Err: err}
	}

	ctx.SetColor(c)
	ctx.DrawRectangle(mmToPx(p.X), mmToPx(p.Y), mmToPx(p.W), mmToPx(p.H))
	if p.Stroke {
		ctx.SetLineWidth(0.5 * PxPerMM)
		ctx.Stroke()
	} else {
		ctx.Fill()
	}
	return nil
}

func renderLine(ctx *gg.Context, p *label.Primitive) error {
	c, err := parseHexColor(p.Color)
	if err != nil {
		return &RenderError{Op: "line", Err: err}
	}

	ctx.SetColor(c)
	ctx.SetLineWidth(1)
	ctx.DrawLine(mmToPx(p.X), mmToPx(p.Y), mmToPx(p.X+p.W), mmToPx(p.Y+p.H))
	ctx.Stroke()
	return nil
}

func (r *Renderer) renderText(ctx *gg.Context, p *label.Primitive) error {
	c, err := parseHexColor(p.Color)
	if err != nil {
		return &RenderError{Op: "text", Err: err}
	}
	ctx.SetColor(c)

	fontPath := r.fontPath
	if p.Bold {
		fontPath = r.fontBoldPath
	}
	if fontPath != "" {
		if err := ctx.LoadFontFace(fontPath, ptToPx(p.SizePt)); err != nil {
			return &RenderError{Op: "text", Err: fmt.Errorf("failed to load font %s: %w", fontPath, err)}
		}
	}

	textW, textH := ctx.MeasureString(p.Text)

	var x float64
	switch p.Align {
	case label.AlignCenter:
		x = mmToPx(p.X) + (mmToPx(p.W)-textW)/2
	default:
		x = mmToPx(p.X)
	}

	ctx.DrawString(p.Text, x, mmToPx(p.Y)+textH)
	return nil
}

func mmToPx(mm float64) float64 { return mm * PxPerMM }

// ptToPx converts a point size to pixels at the renderer's density.
func ptToPx(pt float64) float64 { return pt * 25.4 / 72 * PxPerMM }

func parseHexColor(s string) (color.Color, error) {
	if len(s) != 7 || s[0] != '#' {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	var rv, gv, bv uint8
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &rv, &gv, &bv); err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: rv, G: gv, B: bv, A: 255}, nil
}
