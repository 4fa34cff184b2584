// Package batch splits record ids into bounded batches and runs them on the
// shared worker pool, joining every batch into one completion signal.
package batch

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/worker"
	"golang.org/x/sync/errgroup"
)

// Partition splits items into consecutive chunks of at most size elements.
func Partition[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// Distinct trims values and drops blanks and repeats, keeping first-seen order.
func Distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Func processes one batch. Returning an error fails the whole run.
type Func func(ctx context.Context, ids []string) error

type Executor struct {
	pool   *worker.Pool
	size   int
	logger zerolog.Logger
}

func NewExecutor(pool *worker.Pool, batchSize int, logger zerolog.Logger) *Executor {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Executor{
		pool:   pool,
		size:   batchSize,
		logger: logger.With().Str("component", "batch_executor").Logger(),
	}
}

func (e *Executor) BatchSize() int {
	return e.size
}

// Run partitions ids and submits one pool task per batch. Submission blocks
// while the pool queue is full; the join does not. ctx is handed unchanged to
// every batch, so it must already be detached from any request.
func (e *Executor) Run(ctx context.Context, ids []string, fn Func) *Completion {
	batches := Partition(ids, e.size)
	c := newCompletion(len(batches))
	e.dispatch(ctx, batches, fn, c)
	return c
}

// Go is Run with submission moved off the caller's goroutine. It returns as
// soon as the batches are counted, even when the pool queue is full.
func (e *Executor) Go(ctx context.Context, ids []string, fn Func) *Completion {
	batches := Partition(ids, e.size)
	c := newCompletion(len(batches))
	go e.dispatch(ctx, batches, fn, c)
	return c
}

func (e *Executor) dispatch(ctx context.Context, batches [][]string, fn Func, c *Completion) {
	results := make([]<-chan error, 0, len(batches))
	records := 0
	for i, b := range batches {
		index, ids := i, b
		records += len(ids)
		results = append(results, e.pool.Submit(ctx, func(ctx context.Context) error {
			if err := fn(ctx, ids); err != nil {
				return errors.Wrapf(err, "batch %d", index)
			}
			return nil
		}))
	}
	e.logger.Debug().Int("records", records).Int("batches", len(batches)).Msg("Batches submitted")

	var g errgroup.Group
	for _, res := range results {
		res := res
		g.Go(func() error { return <-res })
	}
	go func() {
		c.complete(g.Wait())
	}()
}

// Completion is the aggregate signal of all batches of one run.
type Completion struct {
	batches   int
	done      chan struct{}
	mu        sync.Mutex
	err       error
	finished  bool
	callbacks []func(error)
}

func newCompletion(batches int) *Completion {
	return &Completion{batches: batches, done: make(chan struct{})}
}

func (c *Completion) Batches() int {
	return c.batches
}

func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until every batch has finished and returns the first failure.
func (c *Completion) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Then registers cb to run once after all batches have finished. Callbacks
// registered after completion run immediately on their own goroutine.
func (c *Completion) Then(cb func(err error)) {
	c.mu.Lock()
	if !c.finished {
		c.callbacks = append(c.callbacks, cb)
		c.mu.Unlock()
		return
	}
	err := c.err
	c.mu.Unlock()
	go cb(err)
}

func (c *Completion) complete(err error) {
	c.mu.Lock()
	c.err = err
	c.finished = true
	callbacks := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()

	close(c.done)
	for _, cb := range callbacks {
		cb(err)
	}
}
