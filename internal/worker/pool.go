// Package worker provides a bounded-concurrency pool for running a batch
// of Tasks, used by internal/ogc's BuildInventory to load project indexes
// concurrently. Batch runs do not use it; they run layers sequentially.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"golang.org/x/sync/errgroup"
)

// Runner executes one recache target to completion (submitting it to the
// job manager and waiting for the renderer to finish) and reports its
// outcome. It matches the shape of jobmanager submission + await.
type Runner interface {
	Run(ctx context.Context, target Task) error
}

// Task is one layer or theme queued for a batch run.
type Task struct {
	Kind cacheindex.Kind
	Name string
}

// Result is the outcome of running a single Task.
type Result struct {
	Task    Task
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Runner     Runner
	OnProgress ProgressFunc
}

// Pool runs a fixed-size batch of recache targets with bounded
// concurrency.
type Pool struct {
	workers    int
	runner     Runner
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		runner:     cfg.Runner,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and returns results. Tasks are processed in
// parallel by the configured number of workers. It blocks until every
// task completes or the context is cancelled.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var (
		completed int
		failed    int
		mu        sync.Mutex
	)

	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.worker(ctx, taskCh, resultCh)
			return nil
		})
	}

	go func() {
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				break
			}
		}
		close(taskCh)
	}()

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		for result := range resultCh {
			results = append(results, result)

			mu.Lock()
			completed++
			if result.Err != nil {
				failed++
			}
			c, f := completed, failed
			mu.Unlock()

			if p.onProgress != nil {
				p.onProgress(c, len(tasks), f)
			}
		}
		close(done)
	}()

	_ = g.Wait()
	close(resultCh)
	<-done

	return results
}

func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		select {
		case <-ctx.Done():
			results <- Result{Task: task, Err: ctx.Err()}
			continue
		default:
		}

		start := time.Now()
		err := p.runner.Run(ctx, task)
		results <- Result{Task: task, Err: err, Elapsed: time.Since(start)}
	}
}
