package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Enqueue when a key's backlog is at capacity.
var ErrQueueFull = errors.New("queue full")

// ErrQueueStopped is returned by Enqueue after Stop.
var ErrQueueStopped = errors.New("queue stopped")

const defaultDepth = 100

// Queue runs jobs asynchronously in FIFO order per key. Each key gets its own
// backlog channel and goroutine; execution goes through Lanes, so queued jobs
// and synchronous Lanes.Do callers on the same key never overlap.
type Queue struct {
	lanes   *Lanes
	depth   int
	pending map[string]chan *Job
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that executes through lanes. depth bounds each
// key's backlog; zero means 100.
func NewQueue(lanes *Lanes, depth int) *Queue {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Queue{
		lanes:   lanes,
		depth:   depth,
		pending: make(map[string]chan *Job),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels running jobs, closes all backlogs and waits for the key
// goroutines to exit. Jobs still queued are dropped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	q.stopped = true
	for _, ch := range q.pending {
		close(ch)
	}
	q.pending = make(map[string]chan *Job)
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends job to its key's backlog, starting the key goroutine on
// first use.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.ctx == nil {
		return ErrQueueStopped
	}

	ch, ok := q.pending[job.Key]
	if !ok {
		ch = make(chan *Job, q.depth)
		q.pending[job.Key] = ch
		q.wg.Add(1)
		go q.drain(job.Key, ch)
	}

	select {
	case ch <- job:
		return nil
	default:
		return fmt.Errorf("%w for key %s", ErrQueueFull, job.Key)
	}
}

func (q *Queue) drain(key string, ch chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-ch:
			if !ok {
				return
			}
			q.run(job)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) run(job *Job) {
	var out string
	err := q.lanes.Do(q.ctx, job.Key, func(ctx context.Context) error {
		job.start()
		var err error
		out, err = job.Fn(ctx)
		return err
	})
	job.finish(out, err)
	if err != nil {
		slog.Error("job failed", "job_id", job.ID, "key", job.Key, "error", err)
	}
	if job.OnComplete != nil {
		job.OnComplete(job)
	}
}
