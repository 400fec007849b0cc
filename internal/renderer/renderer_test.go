package renderer

import (
	"bytes"
	"errors"
	"image/png"
	"strings"
	"testing"

	"github.com/smartpneu/label-engine/internal/label"
)

func testFields() *label.Fields {
	return &label.Fields{
		Brand:       "Michelin",
		Model:       "Pilot Sport 4",
		Dimensions:  "225/45 R17",
		Season:      "Été",
		LoadIndex:   "94",
		SpeedIndex:  "Y (300 km/h)",
		DOT:         "3419",
		TreadDepth:  "7mm",
		SKU:         "TEST-001",
		QRPayload:   "https://smartpneu.com/products/TEST-001",
		CodePayload: "TEST-001",
	}
}

func TestRender_PageDimensions(t *testing.T) {
	doc := label.Layout(testFields())

	data, err := New().Render(doc)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Output is not a valid PNG: %v", err)
	}

	wantW := int(label.PageWidthMM * PxPerMM)
	wantH := int(label.PageHeightMM * PxPerMM)
	if img.Bounds().Dx() != wantW || img.Bounds().Dy() != wantH {
		t.Errorf("Page = %dx%d px, want %dx%d (70x170 mm at %v px/mm)",
			img.Bounds().Dx(), img.Bounds().Dy(), wantW, wantH, PxPerMM)
	}
}

func TestRender_DataIdentical(t *testing.T) {
	r := New()
	doc := label.Layout(testFields())

	a, err := r.Render(doc)
	if err != nil {
		t.Fatalf("First render failed: %v", err)
	}
	b, err := r.Render(doc)
	if err != nil {
		t.Fatalf("Second render failed: %v", err)
	}

	if !bytes.Equal(a, b) {
		t.Error("Re-rendering the same document produced different bytes")
	}
}

func TestRender_QRPayloadTooLong(t *testing.T) {
	f := testFields()
	f.QRPayload = "https://smartpneu.com/products/" + strings.Repeat("x", 200)
	doc := label.Layout(f)

	_, err := New().Render(doc)
	if err == nil {
		t.Fatal("Expected RenderError for oversized QR payload")
	}
	var re *RenderError
	if !errors.As(err, &re) {
		t.Errorf("Expected RenderError, got %T", err)
	}
}

func TestRender_EmptyBarcodePayload(t *testing.T) {
	f := testFields()
	f.CodePayload = ""
	doc := label.Layout(f)

	if _, err := New().Render(doc); err == nil {
		t.Error("Expected RenderError for empty barcode payload")
	}
}
