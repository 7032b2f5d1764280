// Package worker fans independent report tasks out over a bounded pool.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAbandoned marks a task still running when the batch deadline passed.
	ErrAbandoned = errors.New("worker: task abandoned at batch deadline")
	// ErrTimeout is reported by callers that surface a timed out batch.
	ErrTimeout = errors.New("worker: batch timed out")
)

// Options configure a Pool.
type Options struct {
	Name          string
	Concurrency   int
	Timeout       time.Duration
	ProgressEvery int
	// Fatal reports whether a task error must abort the whole batch.
	Fatal func(error) bool
}

// Outcome is the result of one task, at the index of its input.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Batch collects all outcomes in input order.
type Batch[T any] struct {
	Outcomes  []Outcome[T]
	Completed int
	Failed    int
	Abandoned int
	TimedOut  bool
	Elapsed   time.Duration
}

// Values returns the successful values in input order.
func (b Batch[T]) Values() []T {
	out := make([]T, 0, b.Completed)
	for _, o := range b.Outcomes {
		if o.Err == nil {
			out = append(out, o.Value)
		}
	}
	return out
}

// Pool runs batches with bounded concurrency and an overall deadline.
type Pool struct {
	opts   Options
	root   zerolog.Logger
	logger zerolog.Logger
}

// NewPool constructs a pool.
func NewPool(opts Options, logger zerolog.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	if opts.Name == "" {
		opts.Name = "batch"
	}
	return &Pool{
		opts:   opts,
		root:   logger,
		logger: logger.With().Str("component", "worker").Str("batch", opts.Name).Logger(),
	}
}

// Named returns a copy of the pool that logs under name and aborts on fatal.
func (p *Pool) Named(name string, fatal func(error) bool) *Pool {
	opts := p.opts
	opts.Name = name
	opts.Fatal = fatal
	return NewPool(opts, p.root)
}

// Run executes fn for every item. It returns at the batch deadline even if
// tasks ignore their context; unfinished tasks are reported as ErrAbandoned.
// The error is non-nil only for a fatal task error or parent cancellation.
func Run[In, Out any](ctx context.Context, p *Pool, items []In, fn func(context.Context, In) (Out, error)) (Batch[Out], error) {
	start := time.Now()
	batchCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		closed   bool
		outcomes = make([]Outcome[Out], len(items))
		finished = make([]bool, len(items))
		done     atomic.Int64
		total    = len(items)
	)

	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(p.opts.Concurrency)
	waited := make(chan error, 1)

	p.logger.Info().Int("items", total).Int("concurrency", p.opts.Concurrency).Dur("timeout", p.opts.Timeout).Msg("batch started")

	go func() {
		for i, item := range items {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				v, err := fn(gctx, item)
				mu.Lock()
				if !closed {
					outcomes[i] = Outcome[Out]{Value: v, Err: err}
					finished[i] = true
				}
				mu.Unlock()

				n := done.Add(1)
				if n%int64(p.opts.ProgressEvery) == 0 || n == int64(total) {
					p.logger.Info().Int64("done", n).Int("total", total).Msg("progress")
				}
				if err != nil {
					if p.opts.Fatal != nil && p.opts.Fatal(err) {
						return err
					}
					p.logger.Warn().Err(err).Int("index", i).Msg("task failed")
				}
				return nil
			})
		}
		waited <- g.Wait()
	}()

	var fatal error
	select {
	case fatal = <-waited:
	case <-batchCtx.Done():
	}

	mu.Lock()
	closed = true
	batch := Batch[Out]{Outcomes: outcomes, Elapsed: time.Since(start)}
	for i := range outcomes {
		switch {
		case !finished[i]:
			batch.Outcomes[i].Err = ErrAbandoned
			batch.Abandoned++
		case outcomes[i].Err != nil:
			batch.Failed++
		default:
			batch.Completed++
		}
	}
	mu.Unlock()

	if fatal != nil {
		p.logger.Error().Err(fatal).Msg("batch aborted")
		return batch, fatal
	}
	if err := ctx.Err(); err != nil {
		return batch, err
	}
	if batch.Abandoned > 0 && errors.Is(batchCtx.Err(), context.DeadlineExceeded) {
		batch.TimedOut = true
		p.logger.Warn().Int("completed", batch.Completed).Int("abandoned", batch.Abandoned).Msg("batch timed out; returning partial results")
	}

	p.logger.Info().Int("completed", batch.Completed).Int("failed", batch.Failed).Dur("elapsed", batch.Elapsed).Msg("batch finished")
	return batch, nil
}
