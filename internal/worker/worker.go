// Package worker runs background tasks on a fixed-size, process-wide pool.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrPoolClosed is returned for tasks submitted after Shutdown.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is one unit of background work. The context it receives is the one
// handed to Submit; the pool never substitutes its own.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

// Pool executes tasks on a fixed number of goroutines fed by a bounded queue.
// Submit blocks while the queue is full.
type Pool struct {
	queue  chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger zerolog.Logger
}

func NewPool(size, queueSize int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		queue:  make(chan job, queueSize),
		logger: logger.With().Str("component", "worker_pool").Logger(),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop(i)
	}
	p.logger.Info().Int("size", size).Int("queue_size", queueSize).Msg("Worker pool started")
	return p
}

func (p *Pool) loop(worker int) {
	defer p.wg.Done()
	for j := range p.queue {
		j.done <- p.run(worker, j)
		close(j.done)
	}
}

func (p *Pool) run(worker int, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker", worker).
				Str("stack", string(debug.Stack())).
				Msgf("task panicked: %v", r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return j.task(j.ctx)
}

// Submit enqueues task and returns a channel that yields its result exactly
// once. It blocks the caller while the queue is full.
func (p *Pool) Submit(ctx context.Context, task Task) <-chan error {
	done := make(chan error, 1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		done <- ErrPoolClosed
		close(done)
		return done
	}
	p.queue <- job{ctx: ctx, task: task, done: done}
	return done
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}
