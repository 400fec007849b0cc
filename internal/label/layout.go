package label

import (
	"fmt"
	"strings"
)

// Physical page size of one label.
const (
	PageWidthMM  = 70.0
	PageHeightMM = 170.0
)

// Kind discriminates draw primitives.
type Kind string

const (
	KindRect    Kind = "rect"
	KindText    Kind = "text"
	KindLine    Kind = "line"
	KindQRCode  Kind = "qrcode"
	KindBarcode Kind = "barcode"
)

// Align is the horizontal text alignment within a primitive's box.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
)

// Primitive is one positioned draw operation. Coordinates are millimeters
// from the page's top-left corner.
type Primitive struct {
	Kind Kind

	X, Y, W, H float64

	Text   string
	SizePt float64
	Bold   bool
	Align  Align

	// Color is a hex fill for rects and text. Stroke toggles rect outline
	// instead of fill.
	Color  string
	Stroke bool

	// Payload carries the QR or barcode content.
	Payload string
}

// Document is an ordered primitive list on a fixed-size page. Produced by
// Layout, consumed once by the renderer, never mutated.
type Document struct {
	WidthMM    float64
	HeightMM   float64
	Primitives []Primitive
}

const (
	colorBrand  = "#CC0000"
	colorBorder = "#0099CC"
	colorInk    = "#000000"
	colorPaper  = "#FFFFFF"

	headerHeightMM = 35.0
	gridTopMM      = 45.0
	gridStepMM     = 6.0
	qrSizeMM       = 30.0

	// qrTopMM leaves room for the tallest grid (9 base rows plus Options
	// and Remise): 45 + 11*6 = 111, so the grid can never reach the QR.
	qrTopMM      = 112.0
	barcodeTopMM = 146.0
	footerTopMM  = 160.0

	// gridValueWidth is the dot-leader pad width and the truncation budget
	// for grid values.
	gridValueWidth = 22

	shopName  = "smartpneu.com"
	shopPhone = "09 70 70 71 36"
)

var shopTaglines = []string{
	"Pneus d'occasion certifiés à prix imbattables.",
	"Livraison rapide et retours gratuits sous 21 jours.",
	"Qualité, sécurité et économie garanties.",
}

// Layout maps canonical fields to the label's draw primitives. Pure and
// order-stable: identical fields always yield an identical sequence, which
// is what makes golden-output testing of the layout possible.
func Layout(f *Fields) *Document {
	doc := &Document{WidthMM: PageWidthMM, HeightMM: PageHeightMM}

	// Header band with shop identity.
	doc.add(Primitive{Kind: KindRect, X: 0, Y: 0, W: PageWidthMM, H: headerHeightMM, Color: colorBrand})
	doc.add(Primitive{Kind: KindText, X: 5, Y: 12, W: 10, H: 10, Text: "sp", SizePt: 20, Bold: true, Align: AlignLeft, Color: colorPaper})
	doc.add(Primitive{Kind: KindText, X: 15, Y: 8, W: 50, H: 6, Text: shopName, SizePt: 12, Bold: true, Align: AlignLeft, Color: colorPaper})
	for i, line := range shopTaglines {
		doc.add(Primitive{Kind: KindText, X: 15, Y: 14 + float64(i)*4, W: 52, H: 4, Text: line, SizePt: 6, Align: AlignLeft, Color: colorPaper})
	}

	// Body frame.
	doc.add(Primitive{Kind: KindRect, X: 2, Y: headerHeightMM + 2, W: PageWidthMM - 4, H: PageHeightMM - headerHeightMM - 4, Color: colorBorder, Stroke: true})

	// Specification grid.
	y := gridTopMM
	for _, row := range gridRows(f) {
		doc.add(Primitive{
			Kind:   KindText,
			X:      5,
			Y:      y,
			W:      PageWidthMM - 10,
			H:      gridStepMM,
			Text:   row,
			SizePt: 9,
			Align:  AlignLeft,
			Color:  colorInk,
		})
		y += gridStepMM
	}

	// QR zone, centered.
	doc.add(Primitive{
		Kind:    KindQRCode,
		X:       (PageWidthMM - qrSizeMM) / 2,
		Y:       qrTopMM,
		W:       qrSizeMM,
		H:       qrSizeMM,
		Payload: f.QRPayload,
	})

	// Barcode zone.
	doc.add(Primitive{
		Kind:    KindBarcode,
		X:       10,
		Y:       barcodeTopMM,
		W:       PageWidthMM - 20,
		H:       12,
		Payload: f.CodePayload,
	})

	// Footer.
	doc.add(Primitive{Kind: KindText, X: 0, Y: footerTopMM, W: PageWidthMM, H: 6, Text: shopPhone, SizePt: 11, Bold: true, Align: AlignCenter, Color: colorInk})

	return doc
}

func (d *Document) add(p Primitive) {
	d.Primitives = append(d.Primitives, p)
}

// gridRows builds the caption/value lines of the specification grid.
// Missing values render as dot leaders, as on the original shelf labels.
func gridRows(f *Fields) []string {
	rows := []string{
		gridRow("Marque", f.Brand),
		gridRow("Model", f.Model),
		gridRow("Dimensions", f.Dimensions),
		gridRow("Saison", f.Season),
		gridRow("Indice de charge", f.LoadIndex),
		gridRow("Indice de vitesse", f.SpeedIndex),
		gridRow("DOT", f.DOT),
		gridRow("Profondeur", f.TreadDepth),
		gridRow("Ref", f.SKU),
	}

	if len(f.FeatureTags) > 0 {
		rows = append(rows, gridRow("Options", strings.Join(f.FeatureTags, ", ")))
	}
	if f.HasDiscount {
		rows = append(rows, gridRow("Remise", fmt.Sprintf("-%d%%", f.DiscountPct)))
	}

	return rows
}

func gridRow(caption, value string) string {
	value = truncate(value, gridValueWidth)
	if pad := gridValueWidth - len([]rune(value)); pad > 0 {
		value += strings.Repeat(".", pad)
	}
	return caption + " : " + value
}

// truncate cuts an overflowing value and marks the cut with an ellipsis;
// text is never dropped without a marker.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
