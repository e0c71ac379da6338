// Package queue serializes scoring jobs onto a single worker so at most one
// scoring/generation call is in flight system-wide, while message intake
// stays unblocked. The bounded capacity is the only backpressure mechanism:
// a full queue sheds the job immediately instead of blocking the caller.
package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/qiyuanwang/roundtable/backend/internal/model/decision"
)

// ErrQueueFull reports that the scoring queue is at capacity. Callers degrade
// to a safe default decision rather than waiting.
var ErrQueueFull = errors.New("scoring queue full")

// Decider resolves one job into a decision. It must not panic the worker;
// failures are encoded in the result.
type Decider interface {
	Decide(ctx context.Context, job decision.Job) decision.Result
}

// Handle is the per-job completion handle, resolved exactly once.
type Handle struct {
	done chan decision.Result
}

// Wait blocks until the job resolves. A job is never cancelled mid-flight,
// so every submitted handle eventually resolves.
func (h *Handle) Wait() decision.Result {
	return <-h.done
}

type pending struct {
	job    decision.Job
	handle *Handle
}

// Queue is a bounded FIFO of scoring jobs drained by exactly one worker.
type Queue struct {
	jobs    chan pending
	decider Decider
	timeout time.Duration
}

// New builds a queue with the given capacity. timeout bounds each pipeline
// call so one stuck collaborator cannot stall the queue forever; zero
// disables the bound.
func New(decider Decider, capacity int, timeout time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 300
	}
	return &Queue{
		jobs:    make(chan pending, capacity),
		decider: decider,
		timeout: timeout,
	}
}

// Start launches the single worker goroutine. It drains in strict FIFO order
// until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Submit enqueues a job without blocking. On ErrQueueFull the caller must
// synthesize a safe default decision.
func (q *Queue) Submit(job decision.Job) (*Handle, error) {
	p := pending{job: job, handle: &Handle{done: make(chan decision.Result, 1)}}
	select {
	case q.jobs <- p:
		log.Printf("[queue] enqueue seq=%d depth=%d", job.Seq, len(q.jobs))
		return p.handle, nil
	default:
		log.Printf("[queue] full, shedding seq=%d", job.Seq)
		return nil, ErrQueueFull
	}
}

// Depth reports the number of queued jobs, surfaced in chat acknowledgments.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

func (q *Queue) run(ctx context.Context) {
	log.Printf("[queue] worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-q.jobs:
			p.handle.done <- q.decide(ctx, p.job)
		}
	}
}

func (q *Queue) decide(ctx context.Context, job decision.Job) (res decision.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[queue] decider panic seq=%d: %v", job.Seq, r)
			res = decision.SafeDefault(job, decision.DefaultThreshold, "decider panic")
		}
	}()

	if q.timeout > 0 {
		jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
		defer cancel()
		ctx = jobCtx
	}
	log.Printf("[queue] run seq=%d", job.Seq)
	return q.decider.Decide(ctx, job)
}
