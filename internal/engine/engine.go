// Package engine ties record parsing, layout, rendering and print dispatch
// into the single entry point the HTTP server and CLI share.
package engine

import (
	"go.uber.org/zap"

	"github.com/smartpneu/label-engine/internal/dispatch"
	"github.com/smartpneu/label-engine/internal/label"
	"github.com/smartpneu/label-engine/internal/renderer"
	"github.com/smartpneu/label-engine/internal/store"
	"github.com/smartpneu/label-engine/pkg/tirespec"
)

// Engine owns the generate -> persist -> dispatch pipeline for shelf labels.
type Engine struct {
	store      *store.Store
	renderer   *renderer.Renderer
	dispatcher *dispatch.Dispatcher
	baseURL    string
	log        *zap.Logger
}

func New(st *store.Store, r *renderer.Renderer, d *dispatch.Dispatcher, baseURL string, log *zap.Logger) *Engine {
	return &Engine{
		store:      st,
		renderer:   r,
		dispatcher: d,
		baseURL:    baseURL,
		log:        log,
	}
}

// Generate validates a tire record, renders its label and persists the
// artifact. The artifact is durable before any printing is attempted, so a
// generate that returns nil error always leaves a reprintable label behind.
func (e *Engine) Generate(rec *tirespec.Record) (*store.Artifact, []byte, error) {
	fields, missing, err := label.Canonicalize(rec, e.baseURL)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range missing {
		e.log.Warn("tire feature has no printable tag, omitted from label",
			zap.String("sku", rec.SKU),
			zap.Int("feature", int(f)))
	}

	doc := label.Layout(fields)
	page, err := e.renderer.Render(doc)
	if err != nil {
		return nil, nil, err
	}

	art, err := e.store.SaveArtifact(rec.SKU, page, doc.WidthMM, doc.HeightMM)
	if err != nil {
		return nil, nil, err
	}

	e.log.Info("label generated",
		zap.String("sku", rec.SKU),
		zap.String("path", art.Path),
		zap.Int("bytes", len(page)))
	return art, page, nil
}

// Dispatch queues a stored label for printing on the named device. An empty
// device name selects the configured default. The returned job ID can be
// polled via Status.
func (e *Engine) Dispatch(sku, device string) (string, error) {
	return e.dispatcher.Enqueue(sku, device)
}

// GenerateAndDispatch is the common storefront path: persist the label, then
// queue it for printing. Print failures never surface here; the job drains to
// Sent or FallbackSaved on its own.
func (e *Engine) GenerateAndDispatch(rec *tirespec.Record, device string) (*store.Artifact, string, error) {
	art, _, err := e.Generate(rec)
	if err != nil {
		return nil, "", err
	}
	jobID, err := e.Dispatch(rec.SKU, device)
	if err != nil {
		return art, "", err
	}
	return art, jobID, nil
}

// Status reports the current state of a print job.
func (e *Engine) Status(jobID string) (*store.Job, error) {
	return e.store.GetJob(jobID)
}

// Jobs lists recent print jobs, newest first.
func (e *Engine) Jobs(limit int) ([]*store.Job, error) {
	return e.store.ListJobs(limit)
}

// Cancel withdraws a job that has not been handed to a printer yet.
func (e *Engine) Cancel(jobID string) error {
	return e.dispatcher.Cancel(jobID)
}

// Artifact returns the stored label page for a SKU.
func (e *Engine) Artifact(sku string) (*store.Artifact, []byte, error) {
	return e.store.GetArtifact(sku)
}

// Reprint queues the stored artifact for printing again. The label is not
// regenerated: reprints are byte-identical to the original render even if
// fonts or layout defaults changed since.
func (e *Engine) Reprint(sku, device string) (string, error) {
	return e.dispatcher.Enqueue(sku, device)
}
