// Package dispatch runs accepted requests on a bounded worker pool and routes
// each completion back to its session by correlation id.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/session"
)

var (
	// ErrQueueFull is returned when the job queue has no room
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrStopped is returned after Stop
	ErrStopped = errors.New("dispatcher stopped")
)

// Job is one accepted request
type Job struct {
	SessionID     string
	CorrelationID string
	Method        string
	Call          Call
	EnqueuedAt    time.Time
}

// Completer receives finished jobs; implemented by session.Manager
type Completer interface {
	Complete(id string, msg session.Message) bool
}

// Options configures a Dispatcher
type Options struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

// Dispatcher feeds jobs to a fixed pool of workers
type Dispatcher struct {
	jobs      chan Job
	completer Completer
	workers   int
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	started bool
}

// New creates a dispatcher. Call Start before enqueuing.
func New(completer Completer, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = config.DefaultWorkers
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = config.DefaultDispatchQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		jobs:      make(chan Job, opts.QueueSize),
		completer: completer,
		workers:   opts.Workers,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	d.logger.Info("Starting dispatcher", "workers", d.workers, "queue_size", cap(d.jobs))
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop cancels in-flight calls and waits for the workers to exit. Jobs still
// queued are completed with an error so their sessions return to idle.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// Enqueue adds a job without blocking
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case d.jobs <- job:
		recordQueueDepth(d.ctx, 1)
		return nil
	default:
		recordRejected(d.ctx, job.Method)
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for job := range d.jobs {
		recordQueueDepth(d.ctx, -1)
		d.execute(job, n)
	}
}

func (d *Dispatcher) execute(job Job, worker int) {
	start := time.Now()
	wait := start.Sub(job.EnqueuedAt)

	var result any
	var err error
	if d.ctx.Err() != nil {
		err = ErrStopped
	} else {
		result, err = d.invoke(job)
	}

	msg := session.Message{CorrelationID: job.CorrelationID}
	if err != nil {
		msg.Error = &session.ErrorBody{
			Code:      config.CodeInternal,
			Message:   err.Error(),
			Retryable: errors.Is(err, ErrStopped),
		}
	} else {
		msg.Result = result
	}

	delivered := d.completer.Complete(job.SessionID, msg)
	recordJob(d.ctx, job.Method, err, wait, time.Since(start))

	d.logger.Debug("Job finished",
		"worker", worker,
		"session_id", job.SessionID,
		"correlation_id", job.CorrelationID,
		"method", job.Method,
		"queue_wait", wait,
		"duration", time.Since(start),
		"delivered", delivered,
		"error", err)
}

// invoke runs the call, converting a panic into an error so one bad job
// cannot take down the worker
func (d *Dispatcher) invoke(job Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Method panicked",
				"method", job.Method,
				"correlation_id", job.CorrelationID,
				"panic", r)
			err = fmt.Errorf("method %s panicked: %v", job.Method, r)
		}
	}()
	return job.Call(d.ctx)
}
