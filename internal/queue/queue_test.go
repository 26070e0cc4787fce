package queue_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pqsession/internal/domain"
	"pqsession/internal/envelope"
	"pqsession/internal/executor"
	"pqsession/internal/queue"
	"pqsession/internal/store/memstore"
	"pqsession/internal/transport/memtransport"
)

type recordingDriver struct {
	mu    sync.Mutex
	errs  map[int]error
	calls int
}

func (d *recordingDriver) HandleTask(ctx context.Context, task domain.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err, ok := d.errs[d.calls]; ok {
		return err
	}
	return nil
}

// toggleTransport wraps a real memtransport.Transport but lets tests flip
// viability independently of network contents.
type toggleTransport struct {
	*memtransport.Transport
	mu     sync.Mutex
	viable bool
}

func (t *toggleTransport) IsViable(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viable
}

func (t *toggleTransport) setViable(v bool) {
	t.mu.Lock()
	t.viable = v
	t.mu.Unlock()
}

func newHarness(t *testing.T, driver queue.Driver) (*queue.Processor, *memstore.Store, *toggleTransport) {
	t.Helper()
	st := memstore.New()
	net := memtransport.NewNetwork()
	tr := &toggleTransport{Transport: memtransport.New(net), viable: true}
	exec := executor.New()
	t.Cleanup(exec.Close)
	key := bytes.Repeat([]byte{0x09}, 32)
	return queue.New(st, tr, key, exec, driver, nil), st, tr
}

func TestProcessor_FeedAndDrainSingleTask(t *testing.T) {
	driver := &recordingDriver{}
	p, st, _ := newHarness(t, driver)

	if _, err := p.OutboundTask(context.Background(), domain.OutboundTaskMessage{}, domain.PriorityStandard); err != nil {
		t.Fatalf("OutboundTask: %v", err)
	}

	driver.mu.Lock()
	calls := driver.calls
	driver.mu.Unlock()
	if calls != 1 {
		t.Fatalf("got %d driver invocations, want 1", calls)
	}

	jobs, err := st.FetchAllJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchAllJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected completed job to be deleted, found %d remaining", len(jobs))
	}
}

func TestProcessor_OfflineLeavesJobQueued(t *testing.T) {
	driver := &recordingDriver{}
	p, st, tr := newHarness(t, driver)
	tr.setViable(false)

	if _, err := p.OutboundTask(context.Background(), domain.OutboundTaskMessage{}, domain.PriorityStandard); err != nil {
		t.Fatalf("OutboundTask: %v", err)
	}

	driver.mu.Lock()
	calls := driver.calls
	driver.mu.Unlock()
	if calls != 0 {
		t.Fatalf("driver should not run while transport is not viable, got %d calls", calls)
	}

	jobs, err := st.FetchAllJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchAllJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected the job to remain persisted while offline, got %d", len(jobs))
	}

	tr.setViable(true)
	if _, err := p.OutboundTask(context.Background(), domain.OutboundTaskMessage{}, domain.PriorityUrgent); err != nil {
		t.Fatalf("OutboundTask: %v", err)
	}

	driver.mu.Lock()
	calls = driver.calls
	driver.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected both jobs to drain once back online, got %d calls", calls)
	}
}

func TestProcessor_TransientFailureRetriesOnReload(t *testing.T) {
	driver := &recordingDriver{errs: map[int]error{1: errors.New("transient transport hiccup")}}
	p, st, _ := newHarness(t, driver)

	if _, err := p.OutboundTask(context.Background(), domain.OutboundTaskMessage{}, domain.PriorityStandard); err != nil {
		t.Fatalf("OutboundTask: %v", err)
	}

	driver.mu.Lock()
	calls := driver.calls
	driver.mu.Unlock()
	if calls != 1 {
		t.Fatalf("a transiently-failed job must not retry in the same drain, got %d calls", calls)
	}

	jobs, err := st.FetchAllJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchAllJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected the failed job to remain persisted, found %d", len(jobs))
	}

	// The next reload replays it; this time the driver succeeds.
	if err := p.LoadTasks(context.Background()); err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	driver.mu.Lock()
	calls = driver.calls
	driver.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected the reload to retry the job, got %d calls", calls)
	}

	jobs, err = st.FetchAllJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchAllJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected the eventually-successful job to be deleted, found %d remaining", len(jobs))
	}
}

func TestProcessor_PoisonErrorDeletesJobWithoutRetry(t *testing.T) {
	driver := &recordingDriver{errs: map[int]error{1: domain.ErrMissingSessionIdentity}}
	p, st, _ := newHarness(t, driver)

	if _, err := p.OutboundTask(context.Background(), domain.OutboundTaskMessage{}, domain.PriorityStandard); err != nil {
		t.Fatalf("OutboundTask: %v", err)
	}

	driver.mu.Lock()
	calls := driver.calls
	driver.mu.Unlock()
	if calls != 1 {
		t.Fatalf("poisoned job should not be retried, got %d calls", calls)
	}

	jobs, err := st.FetchAllJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchAllJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected poisoned job to be deleted, found %d remaining", len(jobs))
	}
}

// TestProcessor_DelayedJobReturnsWithoutBusyLooping guards against the
// runner re-requeuing a not-yet-due delayed job and checking emptiness
// afterward: since the job is always back on the deque by then, that
// ordering would spin the dispatch loop forever when the delayed job is
// the only one left. A test timeout (not a driver-call assertion) is the
// real guard here; the assertions below just confirm the job was left
// untouched.
func TestProcessor_DelayedJobReturnsWithoutBusyLooping(t *testing.T) {
	driver := &recordingDriver{}
	p, st, _ := newHarness(t, driver)
	key := bytes.Repeat([]byte{0x09}, 32)

	future := time.Now().Add(time.Hour)
	job := domain.JobModel{
		ID:           domain.NewUUID(),
		SequenceID:   1,
		Task:         domain.OutboundTask(domain.OutboundTaskMessage{}),
		Priority:     domain.PriorityDelayed,
		DelayedUntil: &future,
	}
	blob, _, err := envelope.MakeDecryptedModelWithID(job.ID, job, key)
	if err != nil {
		t.Fatalf("seal job: %v", err)
	}
	if err := st.CreateJob(context.Background(), blob); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = p.LoadTasks(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("LoadTasks did not return: runner is busy-looping on the delayed job")
	}

	driver.mu.Lock()
	calls := driver.calls
	driver.mu.Unlock()
	if calls != 0 {
		t.Fatalf("delayed job should not run before it is due, got %d calls", calls)
	}

	jobs, err := st.FetchAllJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchAllJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected the delayed job to remain persisted, got %d remaining", len(jobs))
	}
}

func TestProcessor_LoadTasksReplaysPersistedJobs(t *testing.T) {
	driver := &recordingDriver{}
	st := memstore.New()
	net := memtransport.NewNetwork()
	tr := &toggleTransport{Transport: memtransport.New(net), viable: true}
	key := bytes.Repeat([]byte{0x09}, 32)

	exec := executor.New()
	t.Cleanup(exec.Close)
	p := queue.New(st, tr, key, exec, driver, nil)

	if _, err := p.OutboundTask(context.Background(), domain.OutboundTaskMessage{}, domain.PriorityStandard); err != nil {
		t.Fatalf("OutboundTask: %v", err)
	}

	driver.mu.Lock()
	calls := driver.calls
	driver.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected the first processor to have drained its own job, got %d calls", calls)
	}

	// Simulate a crash-restart: a fresh Processor over the same store
	// should have nothing left to replay, since the job was deleted on
	// success.
	driver2 := &recordingDriver{}
	p2 := queue.New(st, tr, key, exec, driver2, nil)
	if err := p2.LoadTasks(context.Background()); err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	driver2.mu.Lock()
	calls2 := driver2.calls
	driver2.mu.Unlock()
	if calls2 != 0 {
		t.Fatalf("expected no leftover jobs to replay, got %d calls", calls2)
	}
}
