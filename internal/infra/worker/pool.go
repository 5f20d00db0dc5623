package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Task func(ctx context.Context) error

var ErrPoolStopped = errors.New("worker pool stopped")

// Pool runs submitted tasks on a fixed number of goroutines. The queue holds
// no more than the number of workers, so Submit blocks while every worker is
// busy and a sweep never queues work it cannot start soon.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	stop sync.Once
	n    int
	log  *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{jobs: make(chan Task, workers), quit: make(chan struct{}), n: workers, log: &l}
}

func (p *Pool) Size() int { return p.n }

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					if err := task(ctx); err != nil {
						p.log.Error().Err(err).Int("worker", id).Msg("task error")
					}
				}
			}
		}(i)
	}
}

func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit waits for queue space. It fails when ctx ends or the pool stops.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case p.jobs <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// RunAll submits every task and waits for all submitted ones to finish.
// Tasks not submitted because ctx ended are skipped, and so are queued tasks
// no worker picked up before ctx ended or the pool stopped.
func (p *Pool) RunAll(ctx context.Context, tasks []func(ctx context.Context)) {
	var wg sync.WaitGroup
	claimed := make([]atomic.Bool, len(tasks))
	submitted := 0
	for i, t := range tasks {
		wg.Add(1)
		err := p.Submit(ctx, func(ctx context.Context) error {
			if !claimed[i].CompareAndSwap(false, true) {
				return nil
			}
			defer wg.Done()
			t(ctx)
			return nil
		})
		if err != nil {
			wg.Done()
			p.log.Warn().Err(err).Int("skipped", len(tasks)-i).Msg("stopped submitting tasks")
			break
		}
		submitted++
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-ctx.Done():
	case <-p.quit:
	}

	dropped := 0
	for i := 0; i < submitted; i++ {
		if claimed[i].CompareAndSwap(false, true) {
			wg.Done()
			dropped++
		}
	}
	if dropped > 0 {
		p.log.Warn().Int("dropped", dropped).Msg("queued tasks dropped on shutdown")
	}
	<-done
}
