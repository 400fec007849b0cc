// Package dispatch drives best-effort delivery of persisted labels to
// printers. Persistence is the caller's guarantee; everything here may fail
// without failing anyone upstream.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartpneu/label-engine/internal/printer"
	"github.com/smartpneu/label-engine/internal/store"
)

// Policy bounds the retry behavior of a dispatcher.
type Policy struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	Workers        int
}

// DefaultPolicy is used for zero-valued policy fields.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	BaseBackoff:    2 * time.Second,
	MaxBackoff:     time.Minute,
	AttemptTimeout: 30 * time.Second,
	Workers:        2,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultPolicy.BaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultPolicy.MaxBackoff
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultPolicy.AttemptTimeout
	}
	if p.Workers <= 0 {
		p.Workers = DefaultPolicy.Workers
	}
	return p
}

// Submitter delivers an encoded page to one device. Split out so tests can
// run the full dispatch protocol against a fake printer.
type Submitter interface {
	Submit(ctx context.Context, d *printer.Device, page []byte) error
}

// PoolSubmitter submits through a live connection pool.
type PoolSubmitter struct {
	Pool *printer.ConnectionPool
}

// Submit encodes the page for the device head and writes it out.
func (s *PoolSubmitter) Submit(ctx context.Context, d *printer.Device, page []byte) error {
	payload, err := printer.EncodeLabel(page, d.DotsPerLine)
	if err != nil {
		// Encoder rejection cannot improve with retries.
		return &printer.DeviceError{Device: d.Name, Retryable: false, Err: err}
	}

	if err := s.Pool.Connect(d); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.Pool.Send(d.Name, payload) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The write may still land; drop the connection so the next
		// attempt starts clean.
		s.Pool.Disconnect(d.Name)
		return &printer.DeviceError{Device: d.Name, Retryable: true, Err: ctx.Err()}
	}
}

// TransitionFunc observes job status transitions.
type TransitionFunc func(job store.Job)

// Dispatcher owns the job queue and its workers. One submission is in
// flight per device at any time; a slow device never blocks the caller
// that generated the label.
type Dispatcher struct {
	store    *store.Store
	manager  *printer.Manager
	submit   Submitter
	policy   Policy
	log      *zap.Logger
	onChange TransitionFunc

	jobCh  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	deviceLocks sync.Map // device name -> *sync.Mutex
}

// New creates and starts a dispatcher.
func New(st *store.Store, manager *printer.Manager, submit Submitter, policy Policy, log *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		store:   st,
		manager: manager,
		submit:  submit,
		policy:  policy.withDefaults(),
		log:     log,
		jobCh:   make(chan string, 256),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < d.policy.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// OnTransition registers a status observer. Must be called before the first
// Enqueue.
func (d *Dispatcher) OnTransition(fn TransitionFunc) {
	d.onChange = fn
}

// Stop drains the workers. Queued jobs stay in the store and are recovered
// on the next start.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// Enqueue creates a print job for a persisted artifact and hands it to the
// worker pool. With no device configured the job lands in FallbackSaved
// immediately; persistence already succeeded, so this is a normal outcome,
// not an error.
func (d *Dispatcher) Enqueue(artifactSKU, deviceName string) (string, error) {
	if ok, err := d.store.HasArtifact(artifactSKU); err != nil {
		return "", err
	} else if !ok {
		return "", store.ErrNotFound
	}

	if deviceName == "" {
		if def := d.manager.Default(); def != nil {
			deviceName = def.Name
		}
	}

	job := &store.Job{
		ID:          uuid.New().String(),
		ArtifactSKU: artifactSKU,
		Device:      deviceName,
		Status:      store.StatusPending,
	}
	if err := d.store.CreateJob(job); err != nil {
		return "", err
	}
	d.setStatus(job.ID, store.StatusPersisted, 0, "")

	if deviceName == "" {
		d.setStatus(job.ID, store.StatusFallbackSaved, 0, "no device configured, artifact saved to file only")
		return job.ID, nil
	}

	d.setStatus(job.ID, store.StatusQueued, 0, "")
	d.push(job.ID)
	return job.ID, nil
}

// Cancel stops a job that has not yet left the queue. Once a submission is
// handed to the device, cancellation is not guaranteed and the attempt runs
// to completion.
func (d *Dispatcher) Cancel(jobID string) error {
	job, err := d.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if !job.Status.Cancellable() {
		return fmt.Errorf("job %s is %s and can no longer be cancelled", jobID, job.Status)
	}

	d.setStatus(jobID, store.StatusFallbackSaved, job.Retries, "cancelled before dispatch")
	return nil
}

// Recover re-enqueues jobs a previous process left in Queued.
func (d *Dispatcher) Recover() error {
	ids, err := d.store.RecoverQueuedJobs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		d.setStatus(id, store.StatusQueued, 0, "")
		d.push(id)
	}
	if len(ids) > 0 {
		d.log.Info("recovered interrupted print jobs", zap.Int("count", len(ids)))
	}
	return nil
}

func (d *Dispatcher) push(jobID string) {
	select {
	case d.jobCh <- jobID:
	case <-d.ctx.Done():
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case jobID := <-d.jobCh:
			d.process(jobID)
		}
	}
}

func (d *Dispatcher) process(jobID string) {
	job, err := d.store.GetJob(jobID)
	if err != nil {
		d.log.Error("failed to load job", zap.String("job", jobID), zap.Error(err))
		return
	}
	// A cancel may have won the race; terminal jobs are done.
	if job.Status != store.StatusQueued {
		return
	}

	_, page, err := d.store.GetArtifact(job.ArtifactSKU)
	if err != nil {
		d.setStatus(jobID, store.StatusFallbackSaved, job.Retries, fmt.Sprintf("artifact unavailable: %v", err))
		return
	}

	dev, err := d.manager.Get(job.Device)
	if err != nil {
		d.setStatus(jobID, store.StatusFallbackSaved, job.Retries, err.Error())
		return
	}

	lock := d.lockFor(dev.Name)
	lock.Lock()
	attemptCtx, cancel := context.WithTimeout(d.ctx, d.policy.AttemptTimeout)
	err = d.submit.Submit(attemptCtx, dev, page)
	cancel()
	lock.Unlock()

	if err == nil {
		d.setStatus(jobID, store.StatusSent, job.Retries, "")
		d.log.Info("label sent to printer",
			zap.String("job", jobID),
			zap.String("sku", job.ArtifactSKU),
			zap.String("device", dev.Name))
		return
	}

	attempt := job.Retries + 1
	if printer.Retryable(err) && attempt < d.policy.MaxAttempts {
		d.setStatus(jobID, store.StatusFailed, attempt, err.Error())
		delay := d.backoff(job.Retries)
		d.log.Warn("print attempt failed, will retry",
			zap.String("job", jobID),
			zap.String("device", dev.Name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		time.AfterFunc(delay, func() {
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			d.setStatus(jobID, store.StatusQueued, attempt, "")
			d.push(jobID)
		})
		return
	}

	// Fatal failure or retry budget exhausted. The artifact stays durable
	// in the store; the product-creation workflow was never at risk.
	d.setStatus(jobID, store.StatusFallbackSaved, attempt, err.Error())
	d.log.Warn("print dispatch gave up, label saved to file",
		zap.String("job", jobID),
		zap.String("sku", job.ArtifactSKU),
		zap.String("device", dev.Name),
		zap.Int("attempts", attempt),
		zap.Error(err))
}

func (d *Dispatcher) lockFor(device string) *sync.Mutex {
	v, _ := d.deviceLocks.LoadOrStore(device, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (d *Dispatcher) backoff(retries int) time.Duration {
	delay := d.policy.BaseBackoff * time.Duration(1<<uint(retries))
	if delay > d.policy.MaxBackoff {
		delay = d.policy.MaxBackoff
	}
	return delay
}

func (d *Dispatcher) setStatus(jobID string, status store.JobStatus, retries int, errMsg string) {
	if err := d.store.UpdateJob(jobID, status, retries, errMsg); err != nil {
		d.log.Error("failed to update job status",
			zap.String("job", jobID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	if d.onChange != nil {
		if job, err := d.store.GetJob(jobID); err == nil {
			d.onChange(*job)
		}
	}
}
