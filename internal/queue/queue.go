package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pqsession/internal/domain"
	"pqsession/internal/envelope"
	"pqsession/internal/executor"
)

// ErrPoison classifies a job failure as permanent: the job is deleted and
// never retried.
var ErrPoison = errors.New("queue: poison job")

// Driver runs the cryptographic work a JobModel's Task names. The processor never inspects Task itself; it only persists,
// orders, and retries around whatever Driver.HandleTask returns.
type Driver interface {
	HandleTask(ctx context.Context, task domain.Task) error
}

// entry is the in-memory deque record: priority, sequenceId, job.
type entry struct {
	job domain.JobModel
}

// priorityDeque is a container/heap.Interface ordering by (Priority asc,
// SequenceID asc) — ordinal Priority values are already chosen so urgent <
// standard < background < delayed (internal/domain/types/job.go).
type priorityDeque []entry

func (d priorityDeque) Len() int { return len(d) }
func (d priorityDeque) Less(i, j int) bool {
	if d[i].job.Priority != d[j].job.Priority {
		return d[i].job.Priority < d[j].job.Priority
	}
	return d[i].job.SequenceID < d[j].job.SequenceID
}
func (d priorityDeque) Swap(i, j int) { d[i], d[j] = d[j], d[i] }
func (d *priorityDeque) Push(x any)   { *d = append(*d, x.(entry)) }
func (d *priorityDeque) Pop() any {
	old := *d
	n := len(old)
	item := old[n-1]
	*d = old[:n-1]
	return item
}

// Processor is the durable, priority-ordered, single-runner job queue:
// feedTask persists then enqueues, a single cooperative runner drains the
// deque by invoking Driver on the Executor, deleting each job on success
// and poison-deleting it on
// unrecoverable failure.
type Processor struct {
	store       domain.SessionStore
	transport   domain.SessionTransport
	databaseKey []byte
	executor    *executor.Executor
	driver      Driver
	logger      *slog.Logger
	seq         *sequencer

	mu        sync.Mutex
	deque     priorityDeque
	isRunning bool
	cancelled bool
}

// New returns a Processor bound to store/transport for persistence and
// offline detection, exec for serializing driver invocations, and driver
// for the actual cryptographic work. logger defaults to slog.Default() if
// nil.
func New(store domain.SessionStore, transport domain.SessionTransport, databaseKey []byte, exec *executor.Executor, driver Driver, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:       store,
		transport:   transport,
		databaseKey: databaseKey,
		executor:    exec,
		driver:      driver,
		logger:      logger,
		seq:         newSequencer(),
	}
}

// FeedTask encrypt-wraps task, assigns the next sequenceId, persists the
// JobModel, inserts it into the in-memory deque, and kicks the runner.
func (p *Processor) FeedTask(ctx context.Context, task domain.Task, priority domain.Priority) (domain.JobModel, error) {
	job := domain.JobModel{
		ID:         domain.NewUUID(),
		SequenceID: p.seq.next(),
		Task:       task,
		Priority:   priority,
	}

	blob, _, err := envelope.MakeDecryptedModelWithID(job.ID, job, p.databaseKey)
	if err != nil {
		return domain.JobModel{}, fmt.Errorf("queue: encrypt job: %w", err)
	}
	if err := p.store.CreateJob(ctx, blob); err != nil {
		return domain.JobModel{}, fmt.Errorf("queue: persist job: %w", err)
	}

	p.enqueue(job)
	p.attemptTaskSequence(ctx)
	return job, nil
}

// InboundTask wraps msg as an inbound-stream task and feeds it at standard
// priority.
func (p *Processor) InboundTask(ctx context.Context, msg domain.InboundTaskMessage) (domain.JobModel, error) {
	return p.FeedTask(ctx, domain.InboundTask(msg), domain.PriorityStandard)
}

// OutboundTask wraps msg as an outbound-write task and feeds it at
// priority.
func (p *Processor) OutboundTask(ctx context.Context, msg domain.OutboundTaskMessage, priority domain.Priority) (domain.JobModel, error) {
	return p.FeedTask(ctx, domain.OutboundTask(msg), priority)
}

// LoadTasks reloads every JobModel left over from a prior crash into the
// in-memory deque and kicks the runner.
func (p *Processor) LoadTasks(ctx context.Context) error {
	blobs, err := p.store.FetchAllJobs(ctx)
	if err != nil {
		return fmt.Errorf("queue: fetch jobs: %w", err)
	}
	for _, blob := range blobs {
		decoded, err := envelope.Open[domain.JobModel](blob, p.databaseKey)
		if err != nil || decoded.Props == nil {
			p.logger.Warn("queue: dropping corrupt job on reload", "job_id", blob.ID, "error", err)
			_ = p.store.DeleteJob(ctx, blob.ID)
			continue
		}
		p.enqueue(*decoded.Props)
	}
	p.attemptTaskSequence(ctx)
	return nil
}

// Cancel requests cooperative shutdown: the runner checks this between
// jobs and, once it observes it, stops draining.
func (p *Processor) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
}

func (p *Processor) enqueue(job domain.JobModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	heap.Push(&p.deque, entry{job: job})
}

// requeue re-inserts job unchanged, used both for delayed jobs and for
// jobs bounced back by a non-poison failure.
func (p *Processor) requeue(job domain.JobModel) {
	p.enqueue(job)
}

func (p *Processor) dequeue() (domain.JobModel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deque.Len() == 0 {
		return domain.JobModel{}, false
	}
	e := heap.Pop(&p.deque).(entry)
	return e.job, true
}

func (p *Processor) isEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deque.Len() == 0
}

// attemptTaskSequence is the runner's entry point: a no-op if the runner
// is already draining, otherwise
// it drains synchronously on the calling goroutine — the caller (FeedTask
// or LoadTasks) always holds an executor-free goroutine at this point, so
// draining inline here does not violate the cooperative-executor model;
// only the Driver invocation itself is submitted to the Executor.
func (p *Processor) attemptTaskSequence(ctx context.Context) {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.isRunning = false
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if p.cancelled {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		job, ok := p.dequeue()
		if !ok {
			return
		}

		if !p.transport.IsViable(ctx) {
			// Offline: re-queue, stop runner.
			p.requeue(job)
			return
		}

		if !job.IsDue(nowFunc()) {
			// Delayed job: re-insert unchanged, break to the next
			// iteration (there may be other, due, jobs behind it).
			// Emptiness must be checked BEFORE the requeue: once job is
			// back on the deque it is never empty, so checking after
			// would busy-loop forever when this is the only job left.
			wasEmpty := p.isEmpty()
			p.requeue(job)
			if wasEmpty {
				return
			}
			continue
		}

		if p.runOne(ctx, job) {
			if p.isEmpty() {
				return
			}
		}
	}
}

// runOne executes one job end to end and reports whether the runner
// should keep draining (true) or stop (false: a non-poison failure after
// cancellation was requested). It does not look at the deque; the caller
// checks for an empty deque itself.
func (p *Processor) runOne(ctx context.Context, job domain.JobModel) bool {
	fut := p.executor.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, p.driver.HandleTask(ctx, job.Task)
	})
	_, err := fut.Wait(ctx)

	if err == nil {
		if delErr := p.store.DeleteJob(ctx, job.ID); delErr != nil {
			p.logger.Error("queue: delete completed job", "job_id", job.ID, "error", delErr)
		}
		return true
	}

	if isPoison(err) {
		p.logger.Warn("queue: poisoning job", "job_id", job.ID, "error", err)
		if delErr := p.store.DeleteJob(ctx, job.ID); delErr != nil {
			p.logger.Error("queue: delete poisoned job", "job_id", job.ID, "error", delErr)
		}
		return true
	}

	// Any other error: log and keep the persisted record. The job is NOT
	// put back on the in-memory deque (that would hot-loop while the
	// failure persists); the next LoadTasks replays it.
	p.logger.Warn("queue: job failed, will retry on next reload", "job_id", job.ID, "error", err)
	job.Attempts++
	if blob, _, encErr := envelope.MakeDecryptedModelWithID(job.ID, job, p.databaseKey); encErr == nil {
		if updErr := p.store.UpdateJob(ctx, blob); updErr != nil {
			p.logger.Error("queue: persist retry attempt count", "job_id", job.ID, "error", updErr)
		}
	}

	p.mu.Lock()
	cancelled := p.cancelled
	p.mu.Unlock()
	return !cancelled
}

// isPoison reports whether err should permanently remove the job that
// produced it: a missing identity or an
// authentication failure (AEAD or signature) on the ratchet payload.
func isPoison(err error) bool {
	return errors.Is(err, domain.ErrMissingSessionIdentity) ||
		errors.Is(err, domain.ErrAuthenticationFailure) ||
		errors.Is(err, domain.ErrInvalidSignature) ||
		errors.Is(err, ErrPoison)
}

func nowFunc() time.Time { return time.Now() }
