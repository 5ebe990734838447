// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// Task is one unit of work. A returned error is logged by the pool.
type Task func(ctx context.Context) error

var (
	ErrNilTask     = errors.New("nil task")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Pool runs submitted tasks on a fixed number of goroutines. A panicking
// task is recovered and logged; the worker keeps serving. When the pool's
// context ends or Stop is called, tasks still queued are run before the
// workers exit, so every accepted task runs exactly once.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	done <-chan struct{} // ctx passed to Start
	n    int
	log  *zerolog.Logger

	stopOnce sync.Once
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{jobs: make(chan Task, workers*4), quit: make(chan struct{}), n: workers, log: &l}
}

// Start must be called before Submit.
func (p *Pool) Start(ctx context.Context) {
	p.done = ctx.Done()
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					p.drain(ctx, id)
					return
				case <-p.quit:
					p.drain(ctx, id)
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					if err := p.run(ctx, task); err != nil {
						p.log.Warn().Err(err).Int("worker", id).Msg("task error")
					}
				}
			}
		}(i)
	}
}

// drain runs whatever is left in the queue. After cancellation tasks see
// a done ctx and are expected to return promptly.
func (p *Pool) drain(ctx context.Context, id int) {
	for {
		select {
		case task := <-p.jobs:
			if task == nil {
				continue
			}
			if err := p.run(ctx, task); err != nil {
				p.log.Debug().Err(err).Int("worker", id).Msg("drained task error")
			}
		default:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panic: %v", rec)
		}
	}()
	return task(ctx)
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit blocks until a worker queue slot is free, ctx is done, or the
// pool is stopped. A pool whose context has ended counts as stopped.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	select {
	case <-p.quit:
		return ErrPoolStopped
	case <-p.done:
		return ErrPoolStopped
	default:
	}
	select {
	case p.jobs <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	case <-p.done:
		return ErrPoolStopped
	}
}
