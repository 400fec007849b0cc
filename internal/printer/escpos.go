package printer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// ESC/POS control bytes
const (
	escByte byte = 0x1B
	gsByte  byte = 0x1D
)

// DefaultDotsPerLine matches 80 mm thermal heads.
const DefaultDotsPerLine = 576

// EncodeLabel converts a rendered label page (PNG bytes) into an ESC/POS
// job for a device with the given printable width. The page is scaled to
// the head width, thresholded to 1-bit, and framed with init/feed/cut.
func EncodeLabel(page []byte, dotsPerLine int) ([]byte, error) {
	if dotsPerLine <= 0 {
		dotsPerLine = DefaultDotsPerLine
	}

	img, _, err := image.Decode(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to decode label page: %w", err)
	}

	if img.Bounds().Dx() != dotsPerLine {
		img = imaging.Resize(img, dotsPerLine, 0, imaging.Lanczos)
	}
	gray := imaging.Grayscale(img)

	enc := newEncoder()
	enc.initialize()
	if err := enc.rasterImage(gray, 128); err != nil {
		return nil, err
	}
	enc.feed(4)
	enc.cut()

	return enc.bytes(), nil
}

type encoder struct {
	buf *bytes.Buffer
}

func newEncoder() *encoder {
	return &encoder{buf: new(bytes.Buffer)}
}

func (e *encoder) initialize() {
	e.buf.WriteByte(escByte)
	e.buf.WriteByte('@')
}

// rasterImage emits the image as GS v 0 raster data, one block, 1 bit per
// dot with the given luminance threshold.
func (e *encoder) rasterImage(img image.Image, threshold uint8) error {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bytesPerLine := (width + 7) / 8
	if bytesPerLine > 0xFFFF || height > 0xFFFF {
		return fmt.Errorf("raster block %dx%d exceeds ESC/POS limits", width, height)
	}

	bitmap := make([]byte, bytesPerLine*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			lum := uint8((r + g + b) / 3 >> 8)
			if lum < threshold {
				bitmap[y*bytesPerLine+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}

	// GS v 0 m xL xH yL yH d1...dk
	e.buf.WriteByte(gsByte)
	e.buf.WriteByte('v')
	e.buf.WriteByte('0')
	e.buf.WriteByte(0) // normal density
	e.buf.WriteByte(byte(bytesPerLine & 0xFF))
	e.buf.WriteByte(byte(bytesPerLine >> 8))
	e.buf.WriteByte(byte(height & 0xFF))
	e.buf.WriteByte(byte(height >> 8))
	e.buf.Write(bitmap)

	return nil
}

func (e *encoder) feed(lines int) {
	for i := 0; i < lines; i++ {
		e.buf.WriteByte('\n')
	}
}

func (e *encoder) cut() {
	e.buf.WriteByte(gsByte)
	e.buf.WriteByte('V')
	e.buf.WriteByte(0)
}

func (e *encoder) bytes() []byte {
	return e.buf.Bytes()
}
