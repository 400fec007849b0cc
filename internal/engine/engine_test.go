package engine

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smartpneu/label-engine/internal/dispatch"
	"github.com/smartpneu/label-engine/internal/printer"
	"github.com/smartpneu/label-engine/internal/renderer"
	"github.com/smartpneu/label-engine/internal/store"
	"github.com/smartpneu/label-engine/pkg/tirespec"
)

type okSubmitter struct{}

func (okSubmitter) Submit(ctx context.Context, d *printer.Device, page []byte) error {
	return nil
}

func testEngine(t *testing.T, devices ...printer.Device) *Engine {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "labels.db"), filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m, err := printer.NewManager(devices)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	d := dispatch.New(s, m, okSubmitter{}, dispatch.DefaultPolicy, zap.NewNop())
	t.Cleanup(d.Stop)

	return New(s, renderer.New(), d, "https://smartpneu.com", zap.NewNop())
}

func price(v float64) *float64 { return &v }

func testRecord() *tirespec.Record {
	return &tirespec.Record{
		Brand:      "Michelin",
		Model:      "Pilot Sport 5",
		Width:      "225",
		Height:     "45",
		Radius:     "R17",
		LoadIndex:  "94",
		SpeedIndex: "Y",
		Season:     "summer",
		DOT:        "2024",
		TreadDepth: "8 mm",
		SKU:        "MICH-PS5-2254517",
		NewPrice:   price(150),
		Quantity:   4,
	}
}

func TestGeneratePersistsArtifact(t *testing.T) {
	e := testEngine(t)

	art, page, err := e.Generate(testRecord())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if art.SKU != "MICH-PS5-2254517" {
		t.Errorf("Artifact SKU = %q", art.SKU)
	}
	if len(page) == 0 {
		t.Fatal("Generate returned empty page")
	}

	stored, data, err := e.Artifact("MICH-PS5-2254517")
	if err != nil {
		t.Fatalf("Artifact lookup failed: %v", err)
	}
	if !bytes.Equal(data, page) {
		t.Error("Stored artifact differs from rendered page")
	}
	if stored.SHA256 != art.SHA256 {
		t.Errorf("Checksum mismatch: %s vs %s", stored.SHA256, art.SHA256)
	}
}

func TestGenerateRejectsInvalidRecord(t *testing.T) {
	e := testEngine(t)

	rec := testRecord()
	rec.SKU = ""
	if _, _, err := e.Generate(rec); !tirespec.IsValidationError(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestReprintUsesStoredBytes(t *testing.T) {
	e := testEngine(t)

	rec := testRecord()
	_, original, err := e.Generate(rec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// A reprint must not re-render; the stored page is authoritative.
	if _, err := e.Reprint(rec.SKU, ""); err != nil {
		t.Fatalf("Reprint failed: %v", err)
	}
	_, data, err := e.Artifact(rec.SKU)
	if err != nil {
		t.Fatalf("Artifact lookup failed: %v", err)
	}
	if !bytes.Equal(data, original) {
		t.Error("Reprint changed the stored artifact")
	}
}

func TestReprintUnknownSKU(t *testing.T) {
	e := testEngine(t)

	if _, err := e.Reprint("no-such-sku", ""); err == nil {
		t.Error("Reprint of an unknown SKU should fail")
	}
}

func TestGenerateAndDispatchDrains(t *testing.T) {
	e := testEngine(t, printer.Device{Name: "shop", Type: printer.TypeNetwork, Host: "127.0.0.1"})

	_, jobID, err := e.GenerateAndDispatch(testRecord(), "shop")
	if err != nil {
		t.Fatalf("GenerateAndDispatch failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := e.Status(jobID)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if job.Status.Terminal() {
			if job.Status != store.StatusSent {
				t.Fatalf("Job ended %s, want %s", job.Status, store.StatusSent)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Job never reached a terminal status")
}

func TestDispatchWithoutDeviceFallsBack(t *testing.T) {
	e := testEngine(t)

	rec := testRecord()
	if _, _, err := e.Generate(rec); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	jobID, err := e.Dispatch(rec.SKU, "")
	if err != nil {
		t.Fatalf("Dispatch without devices must not error, got %v", err)
	}
	job, err := e.Status(jobID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if job.Status != store.StatusFallbackSaved {
		t.Errorf("Status = %s, want %s", job.Status, store.StatusFallbackSaved)
	}
}
