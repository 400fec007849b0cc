package renderer

import (
	"fmt"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/fogleman/gg"
	"github.com/skip2/go-qrcode"

	"github.com/smartpneu/label-engine/internal/label"
)

// maxQRPayload caps the QR content at the byte capacity of a version 4
// symbol with medium error correction, so the module grid stays scannable
// inside the 30 mm zone.
const maxQRPayload = 62

func renderQRCode(ctx *gg.Context, p *label.Primitive) error {
	if p.Payload == "" {
		return &RenderError{Op: "qrcode", Err: fmt.Errorf("empty payload")}
	}
	if len(p.Payload) > maxQRPayload {
		return &RenderError{Op: "qrcode", Err: fmt.Errorf("payload is %d bytes, max %d", len(p.Payload), maxQRPayload)}
	}

	// Medium error correction tolerates partial smudging on the shelf.
	qr, err := qrcode.New(p.Payload, qrcode.Medium)
	if err != nil {
		return &RenderError{Op: "qrcode", Err: err}
	}

	sizePx := int(mmToPx(p.W))
	ctx.DrawImage(qr.Image(sizePx), int(mmToPx(p.X)), int(mmToPx(p.Y)))
	return nil
}

func renderBarcode(ctx *gg.Context, p *label.Primitive) error {
	if p.Payload == "" {
		return &RenderError{Op: "barcode", Err: fmt.Errorf("empty payload")}
	}

	// Code 128 covers the full alphanumeric SKU alphabet.
	bc, err := code128.Encode(p.Payload)
	if err != nil {
		return &RenderError{Op: "barcode", Err: err}
	}

	scaled, err := barcode.Scale(bc, int(mmToPx(p.W)), int(mmToPx(p.H)))
	if err != nil {
		return &RenderError{Op: "barcode", Err: err}
	}

	ctx.DrawImage(scaled, int(mmToPx(p.X)), int(mmToPx(p.Y)))
	return nil
}
