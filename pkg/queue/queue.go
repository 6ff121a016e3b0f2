// Package queue runs deferred catalogue work (image variant
// generation, remote image fetches) on an in-process worker pool with
// per-kind retry schedules.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/metrics"
)

// Kind identifies a job type. Handlers and retry schedules are
// registered per kind.
type Kind string

const (
	// KindVariantGenerate resizes a completed upload into its image variants.
	KindVariantGenerate Kind = "variant_generate"

	// KindImageFetch downloads a remote image referenced by a CSV row.
	KindImageFetch Kind = "image_fetch"
)

var (
	// ErrQueueFull is returned when the pending job buffer is at capacity.
	ErrQueueFull = errors.New("job queue full")

	// ErrQueueStopped is returned when enqueueing after shutdown.
	ErrQueueStopped = errors.New("job queue stopped")

	// ErrUnknownKind is returned when no handler is registered for a job's kind.
	ErrUnknownKind = errors.New("unknown job kind")
)

// Job is one unit of deferred work. Key identifies the subject for
// logging and deduplication by callers; Payload carries kind-specific
// data the handler type-asserts.
type Job struct {
	Kind    Kind
	Key     string
	Payload any
}

// HandlerFunc executes one job attempt. A nil return completes the
// job; an error schedules a retry until the kind's schedule is
// exhausted.
type HandlerFunc func(ctx context.Context, job Job) error

// RetryPolicy is the delay schedule applied after failed attempts.
// A job runs len(Delays)+1 times at most.
type RetryPolicy struct {
	Delays []time.Duration
}

// VariantRetryPolicy retries variant generation three times with a
// linearly growing delay.
func VariantRetryPolicy() RetryPolicy {
	return RetryPolicy{Delays: []time.Duration{30 * time.Second, 60 * time.Second}}
}

// FetchRetryPolicy retries remote image fetches three times with
// widening delays, since remote outages tend to last.
func FetchRetryPolicy() RetryPolicy {
	return RetryPolicy{Delays: []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}}
}

// scheduleBackOff steps through a fixed delay slice, then stops.
type scheduleBackOff struct {
	delays []time.Duration
	next   int
}

var _ backoff.BackOff = (*scheduleBackOff)(nil)

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.next]
	b.next++
	return d
}

func (b *scheduleBackOff) Reset() {
	b.next = 0
}

type registration struct {
	handler HandlerFunc
	policy  RetryPolicy
}

// task is a job in flight with its retry state.
type task struct {
	job     Job
	attempt int
	bo      backoff.BackOff
}

// Queue is a fixed-size worker pool with delayed requeue on failure.
type Queue struct {
	workers  int
	tasks    chan *task
	handlers map[Kind]registration
	metrics  *metrics.CatalogMetrics

	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}

	wg sync.WaitGroup
}

// Config sizes the worker pool. Metrics may be nil.
type Config struct {
	Workers  int
	Capacity int
	Metrics  *metrics.CatalogMetrics
}

// New creates a stopped queue. Register handlers, then call Start.
func New(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	return &Queue{
		workers:  cfg.Workers,
		tasks:    make(chan *task, cfg.Capacity),
		handlers: make(map[Kind]registration),
		metrics:  cfg.Metrics,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Register binds a handler and retry policy to a job kind. Must be
// called before Start.
func (q *Queue) Register(kind Kind, policy RetryPolicy, h HandlerFunc) {
	q.handlers[kind] = registration{handler: h, policy: policy}
}

// Enqueue submits a job for asynchronous execution.
func (q *Queue) Enqueue(job Job) error {
	reg, ok := q.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}

	t := &task{
		job:     job,
		attempt: 1,
		bo:      &scheduleBackOff{delays: reg.policy.Delays},
	}
	return q.submit(t)
}

// submit holds the lock across the send so the channel cannot be
// closed between the stopped check and the send.
func (q *Queue) submit(t *task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}

	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool. Workers run until the context is
// cancelled; pending retries scheduled after cancellation are dropped.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop prevents new submissions, cancels pending retry timers, and
// waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()

	close(q.tasks)
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q.tasks:
			if !ok {
				return
			}
			q.run(ctx, t)
		}
	}
}

func (q *Queue) run(ctx context.Context, t *task) {
	reg := q.handlers[t.job.Kind]

	err := reg.handler(ctx, t.job)
	if err == nil {
		logger.Debug("Job completed",
			logger.KeyJobKind, string(t.job.Kind),
			"key", t.job.Key,
			logger.KeyAttempt, t.attempt)
		return
	}

	delay := t.bo.NextBackOff()
	if delay == backoff.Stop {
		logger.Error("Job failed permanently",
			logger.KeyJobKind, string(t.job.Kind),
			"key", t.job.Key,
			logger.KeyAttempt, t.attempt,
			logger.KeyError, err.Error())
		return
	}

	logger.Warn("Job failed, scheduling retry",
		logger.KeyJobKind, string(t.job.Kind),
		"key", t.job.Key,
		logger.KeyAttempt, t.attempt,
		"retry_in", delay.String(),
		logger.KeyError, err.Error())
	q.metrics.RecordJobRetry(string(t.job.Kind))

	t.attempt++
	q.scheduleRetry(t, delay)
}

func (q *Queue) scheduleRetry(t *task, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			return
		}
		if err := q.submit(t); err != nil {
			logger.Error("Failed to requeue job",
				logger.KeyJobKind, string(t.job.Kind),
				"key", t.job.Key,
				logger.KeyError, err.Error())
		}
	})
	q.timers[timer] = struct{}{}
}
