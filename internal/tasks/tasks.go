package tasks

import (
	"context"
	"log"
	"sync"
	"time"
)

// Executor runs fire-and-forget side effects off the request path. Failures
// land in the executor's own log sink and are never propagated back to the
// submitting request.
type Executor struct {
	queue   chan task
	timeout time.Duration
	wg      sync.WaitGroup
	stop    chan struct{}
	logger  *log.Logger

	mu     sync.Mutex
	closed bool
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Config configures the background executor.
type Config struct {
	Workers     int           // parallel workers (default 2)
	QueueSize   int           // pending task buffer (default 64)
	TaskTimeout time.Duration // per-task deadline (default 30s)
	Logger      *log.Logger
}

// New starts the executor's worker goroutines.
func New(cfg Config) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	e := &Executor{
		queue:   make(chan task, cfg.QueueSize),
		timeout: cfg.TaskTimeout,
		stop:    make(chan struct{}),
		logger:  cfg.Logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case t := <-e.queue:
			e.run(t)
		case <-e.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case t := <-e.queue:
					e.run(t)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := t.fn(ctx); err != nil {
		e.logf("task %s failed: %v", t.name, err)
	}
}

// Submit queues fn for background execution. When the queue is full the task
// is dropped with a log line rather than blocking the caller.
func (e *Executor) Submit(name string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		e.logf("task %s rejected: executor closed", name)
		return
	}
	select {
	case e.queue <- task{name: name, fn: fn}:
	default:
		e.logf("task %s dropped: queue full", name)
	}
}

// Close stops accepting tasks, drains the queue and waits for workers.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.stop)
	e.wg.Wait()
}

func (e *Executor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
