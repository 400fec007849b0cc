package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smartpneu/label-engine/internal/printer"
	"github.com/smartpneu/label-engine/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "labels.db"), filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.SaveArtifact("SKU-1", []byte("label page"), 70, 170); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	return s
}

func testManager(t *testing.T, devices ...printer.Device) *printer.Manager {
	t.Helper()
	m, err := printer.NewManager(devices)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func netDevice(name string) printer.Device {
	return printer.Device{Name: name, Type: printer.TypeNetwork, Host: "127.0.0.1", Port: 9100}
}

// fakeSubmitter scripts submission outcomes and tracks concurrency.
type fakeSubmitter struct {
	mu       sync.Mutex
	errs     []error // consumed in order; nil means success
	calls    int32
	inFlight int32
	maxSeen  int32
	block    chan struct{} // when set, Submit waits on it
}

func (f *fakeSubmitter) Submit(ctx context.Context, d *printer.Device, page []byte) error {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}
	atomic.AddInt32(&f.calls, 1)

	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseBackoff:    5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		AttemptTimeout: time.Second,
		Workers:        2,
	}
}

func waitForStatus(t *testing.T, s *store.Store, jobID string, want store.JobStatus) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(jobID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := s.GetJob(jobID)
	t.Fatalf("Job %s never reached %s (last status %s)", jobID, want, job.Status)
	return nil
}

func retryableErr(device string) error {
	return &printer.DeviceError{Device: device, Retryable: true, Err: errors.New("device busy")}
}

func TestDispatch_Success(t *testing.T) {
	s := testStore(t)
	fake := &fakeSubmitter{}
	d := New(s, testManager(t, netDevice("shop")), fake, fastPolicy(), zap.NewNop())
	defer d.Stop()

	jobID, err := d.Enqueue("SKU-1", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job := waitForStatus(t, s, jobID, store.StatusSent)
	if job.Retries != 0 {
		t.Errorf("Retries = %d, want 0", job.Retries)
	}
}

func TestDispatch_RetryThenSuccess(t *testing.T) {
	s := testStore(t)
	fake := &fakeSubmitter{errs: []error{retryableErr("shop"), nil}}
	d := New(s, testManager(t, netDevice("shop")), fake, fastPolicy(), zap.NewNop())
	defer d.Stop()

	jobID, err := d.Enqueue("SKU-1", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job := waitForStatus(t, s, jobID, store.StatusSent)
	if job.Retries != 1 {
		t.Errorf("Retries = %d, want 1", job.Retries)
	}
}

func TestDispatch_RetryExhaustion(t *testing.T) {
	s := testStore(t)
	fake := &fakeSubmitter{errs: []error{
		retryableErr("shop"), retryableErr("shop"), retryableErr("shop"), retryableErr("shop"),
	}}
	d := New(s, testManager(t, netDevice("shop")), fake, fastPolicy(), zap.NewNop())
	defer d.Stop()

	jobID, err := d.Enqueue("SKU-1", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job := waitForStatus(t, s, jobID, store.StatusFallbackSaved)
	if job.Retries != 3 {
		t.Errorf("Retries = %d, want max attempts 3", job.Retries)
	}
	if atomic.LoadInt32(&fake.calls) != 3 {
		t.Errorf("Submit calls = %d, want 3", fake.calls)
	}

	// The artifact survives for later reprints.
	if _, data, err := s.GetArtifact("SKU-1"); err != nil || len(data) == 0 {
		t.Errorf("Artifact not retrievable after exhaustion: %v", err)
	}
}

func TestDispatch_FatalFailureStopsImmediately(t *testing.T) {
	s := testStore(t)
	fatal := &printer.DeviceError{Device: "shop", Retryable: false, Err: errors.New("job rejected")}
	fake := &fakeSubmitter{errs: []error{fatal}}
	d := New(s, testManager(t, netDevice("shop")), fake, fastPolicy(), zap.NewNop())
	defer d.Stop()

	jobID, err := d.Enqueue("SKU-1", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitForStatus(t, s, jobID, store.StatusFallbackSaved)
	if calls := atomic.LoadInt32(&fake.calls); calls != 1 {
		t.Errorf("Submit calls = %d, want 1 (no retries after fatal)", calls)
	}
}

func TestDispatch_NoDeviceConfigured(t *testing.T) {
	s := testStore(t)
	fake := &fakeSubmitter{}
	d := New(s, testManager(t), fake, fastPolicy(), zap.NewNop())
	defer d.Stop()

	jobID, err := d.Enqueue("SKU-1", "")
	if err != nil {
		t.Fatalf("Enqueue with no device must not error, got %v", err)
	}

	job, err := s.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != store.StatusFallbackSaved {
		t.Errorf("Status = %s, want immediate %s", job.Status, store.StatusFallbackSaved)
	}
	if atomic.LoadInt32(&fake.calls) != 0 {
		t.Error("No submission should happen without a device")
	}
}

func TestDispatch_UnknownDeviceIsFatal(t *testing.T) {
	s := testStore(t)
	fake := &fakeSubmitter{}
	d := New(s, testManager(t, netDevice("shop")), fake, fastPolicy(), zap.NewNop())
	defer d.Stop()

	jobID, err := d.Enqueue("SKU-1", "warehouse")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitForStatus(t, s, jobID, store.StatusFallbackSaved)
	if atomic.LoadInt32(&fake.calls) != 0 {
		t.Error("No submission should happen for an unknown device")
	}
}

func TestDispatch_UnknownArtifact(t *testing.T) {
	s := testStore(t)
	d := New(s, testManager(t, netDevice("shop")), &fakeSubmitter{}, fastPolicy(), zap.NewNop())
	defer d.Stop()

	if _, err := d.Enqueue("no-such-sku", "shop"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDispatch_SameDeviceSerialized(t *testing.T) {
	s := testStore(t)
	if _, err := s.SaveArtifact("SKU-2", []byte("second page"), 70, 170); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}

	block := make(chan struct{})
	fake := &fakeSubmitter{block: block}
	policy := fastPolicy()
	policy.Workers = 4
	d := New(s, testManager(t, netDevice("shop")), fake, policy, zap.NewNop())
	defer d.Stop()

	a, err := d.Enqueue("SKU-1", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	b, err := d.Enqueue("SKU-2", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	close(block)

	waitForStatus(t, s, a, store.StatusSent)
	waitForStatus(t, s, b, store.StatusSent)

	if max := atomic.LoadInt32(&fake.maxSeen); max > 1 {
		t.Errorf("Observed %d concurrent submissions to one device, want at most 1", max)
	}
}

func TestDispatch_CancelWhileQueued(t *testing.T) {
	s := testStore(t)
	if _, err := s.SaveArtifact("SKU-2", []byte("second page"), 70, 170); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}

	block := make(chan struct{})
	fake := &fakeSubmitter{block: block}
	policy := fastPolicy()
	policy.Workers = 1
	d := New(s, testManager(t, netDevice("shop")), fake, policy, zap.NewNop())
	defer d.Stop()

	// First job occupies the only worker; the second stays queued.
	first, err := d.Enqueue("SKU-1", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := d.Enqueue("SKU-2", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := d.Cancel(second); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	close(block)
	waitForStatus(t, s, first, store.StatusSent)

	job := waitForStatus(t, s, second, store.StatusFallbackSaved)
	if job.Error == "" {
		t.Error("Cancelled job should record why it ended")
	}
	if calls := atomic.LoadInt32(&fake.calls); calls != 1 {
		t.Errorf("Submit calls = %d, want 1 (cancelled job never submitted)", calls)
	}
}

func TestDispatch_CancelTerminalJobFails(t *testing.T) {
	s := testStore(t)
	fake := &fakeSubmitter{}
	d := New(s, testManager(t, netDevice("shop")), fake, fastPolicy(), zap.NewNop())
	defer d.Stop()

	jobID, err := d.Enqueue("SKU-1", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitForStatus(t, s, jobID, store.StatusSent)

	if err := d.Cancel(jobID); err == nil {
		t.Error("Cancelling a sent job should fail")
	}
}

func TestDispatch_TransitionEvents(t *testing.T) {
	s := testStore(t)
	fake := &fakeSubmitter{}

	var mu sync.Mutex
	var seen []store.JobStatus

	d := New(s, testManager(t, netDevice("shop")), fake, fastPolicy(), zap.NewNop())
	d.OnTransition(func(job store.Job) {
		mu.Lock()
		seen = append(seen, job.Status)
		mu.Unlock()
	})
	defer d.Stop()

	jobID, err := d.Enqueue("SKU-1", "shop")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitForStatus(t, s, jobID, store.StatusSent)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 {
		t.Fatalf("Expected persisted+queued+sent transitions, got %v", seen)
	}
	if seen[0] != store.StatusPersisted || seen[1] != store.StatusQueued || seen[len(seen)-1] != store.StatusSent {
		t.Errorf("Transitions = %v", seen)
	}
}

func TestDispatch_Recover(t *testing.T) {
	s := testStore(t)

	// Simulate a crash: a job left in Queued with no worker owning it.
	job := &store.Job{ID: "stale-job", ArtifactSKU: "SKU-1", Device: "shop", Status: store.StatusQueued}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	fake := &fakeSubmitter{}
	d := New(s, testManager(t, netDevice("shop")), fake, fastPolicy(), zap.NewNop())
	defer d.Stop()

	if err := d.Recover(); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	waitForStatus(t, s, "stale-job", store.StatusSent)
}
