package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
)

// mockRunner simulates a recache target run for testing.
type mockRunner struct {
	delay     time.Duration
	failNames map[string]bool
	callCount atomic.Int32
}

func (m *mockRunner) Run(ctx context.Context, target Task) error {
	m.callCount.Add(1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}

	if m.failNames != nil && m.failNames[target.Name] {
		return errors.New("simulated failure")
	}
	return nil
}

func layerTasks(names ...string) []Task {
	tasks := make([]Task, len(names))
	for i, n := range names {
		tasks[i] = Task{Kind: cacheindex.KindLayer, Name: n}
	}
	return tasks
}

func TestPool_BasicExecution(t *testing.T) {
	gen := &mockRunner{delay: 10 * time.Millisecond}
	pool := New(Config{Workers: 2, Runner: gen})

	tasks := layerTasks("parcels", "roads", "buildings")
	results := pool.Run(context.Background(), tasks)

	if len(results) != len(tasks) {
		t.Errorf("Expected %d results, got %d", len(tasks), len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("Unexpected error for %s: %v", r.Task.Name, r.Err)
		}
	}
	if gen.callCount.Load() != int32(len(tasks)) {
		t.Errorf("Expected %d runner calls, got %d", len(tasks), gen.callCount.Load())
	}
}

func TestPool_Parallelism(t *testing.T) {
	gen := &mockRunner{delay: 50 * time.Millisecond}
	pool := New(Config{Workers: 4, Runner: gen})

	names := make([]string, 8)
	for i := range names {
		names[i] = "layer" + string(rune('a'+i))
	}

	start := time.Now()
	results := pool.Run(context.Background(), layerTasks(names...))
	elapsed := time.Since(start)

	maxExpected := 200 * time.Millisecond
	if elapsed > maxExpected {
		t.Errorf("Expected parallel execution in ~100ms, took %v", elapsed)
	}
	if len(results) != len(names) {
		t.Errorf("Expected %d results, got %d", len(names), len(results))
	}
}

func TestPool_ErrorHandling(t *testing.T) {
	gen := &mockRunner{
		delay:     10 * time.Millisecond,
		failNames: map[string]bool{"roads": true},
	}
	pool := New(Config{Workers: 2, Runner: gen})

	results := pool.Run(context.Background(), layerTasks("parcels", "roads", "buildings"))

	var successCount, failCount int
	for _, r := range results {
		if r.Err != nil {
			failCount++
			if r.Task.Name != "roads" {
				t.Errorf("Unexpected failure for %s", r.Task.Name)
			}
		} else {
			successCount++
		}
	}
	if successCount != 2 {
		t.Errorf("Expected 2 successes, got %d", successCount)
	}
	if failCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failCount)
	}
}

func TestPool_Cancellation(t *testing.T) {
	gen := &mockRunner{delay: 100 * time.Millisecond}
	pool := New(Config{Workers: 2, Runner: gen})

	names := make([]string, 10)
	for i := range names {
		names[i] = "layer" + string(rune('a'+i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results := pool.Run(ctx, layerTasks(names...))
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Errorf("Expected early cancellation, took %v", elapsed)
	}

	var cancelledCount int
	for _, r := range results {
		if r.Err != nil && errors.Is(r.Err, context.Canceled) {
			cancelledCount++
		}
	}
	t.Logf("Completed with %d results (%d cancelled) in %v", len(results), cancelledCount, elapsed)
}

func TestPool_ProgressCallback(t *testing.T) {
	gen := &mockRunner{delay: 10 * time.Millisecond}

	var progressCalls atomic.Int32
	var lastCompleted, lastTotal int

	pool := New(Config{
		Workers: 2,
		Runner:  gen,
		OnProgress: func(completed, total, failed int) {
			progressCalls.Add(1)
			lastCompleted = completed
			lastTotal = total
		},
	})

	results := pool.Run(context.Background(), layerTasks("parcels", "roads", "buildings"))
	_ = results

	if progressCalls.Load() == 0 {
		t.Error("Expected progress callbacks, got none")
	}
	if lastCompleted != 3 {
		t.Errorf("Expected lastCompleted=3, got %d", lastCompleted)
	}
	if lastTotal != 3 {
		t.Errorf("Expected lastTotal=3, got %d", lastTotal)
	}
}

func TestPool_EmptyTasks(t *testing.T) {
	gen := &mockRunner{}
	pool := New(Config{Workers: 2, Runner: gen})

	results := pool.Run(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("Expected 0 results for empty tasks, got %d", len(results))
	}
	if gen.callCount.Load() != 0 {
		t.Errorf("Expected 0 runner calls for empty tasks, got %d", gen.callCount.Load())
	}
}
