package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrQueueFull  = errors.New("processing queue is full")
	ErrPoolClosed = errors.New("processing pool is closed")
)

type RunFunc func(ctx context.Context, job Job) error

// Pool is the in-process Dispatcher: a fixed number of workers draining a
// bounded queue. Dispatch never blocks; a full queue is an error.
type Pool struct {
	run RunFunc
	log *slog.Logger

	queue  chan *task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewPool(run RunFunc, workers, queue int, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		run:    run,
		log:    log,
		queue:  make(chan *task, queue),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) Dispatch(_ context.Context, job Job) (Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	t := &task{job: job, done: make(chan struct{})}
	select {
	case p.queue <- t:
		p.log.Debug("pool.enqueued", "document_id", job.DocumentID, "attempt_id", job.AttemptID)
		return t, nil
	default:
		return nil, ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish. When ctx
// ends first the running jobs are cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		t.err = p.exec(t.job)
		close(t.done)
	}
}

func (p *Pool) exec(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pool.panic", "document_id", job.DocumentID, "panic", r)
			err = fmt.Errorf("processing %s panicked: %v", job.DocumentID, r)
		}
	}()
	return p.run(p.ctx, job)
}

type task struct {
	job  Job
	done chan struct{}
	err  error
}

func (t *task) ID() string {
	return t.job.DocumentID + "/" + t.job.AttemptID
}

func (t *task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
