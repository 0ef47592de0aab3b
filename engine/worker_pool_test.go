package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewWorkerPool(t *testing.T) {
	pool := NewWorkerPool("test", 4)
	defer pool.Shutdown()

	if pool == nil {
		t.Fatal("NewWorkerPool returned nil")
	}

	stats := pool.GetStats()
	if stats.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", stats.Workers)
	}
	if stats.Name != "test" {
		t.Errorf("Expected name 'test', got %s", stats.Name)
	}
}

func TestWorkerPoolSubmit(t *testing.T) {
	pool := NewWorkerPool("test", 2)
	defer pool.Shutdown()

	results := make(chan *Result, 1)
	task := NewTask("task-1", func(context.Context) error { return nil }).
		OnDone(func(r *Result) { results <- r })

	if err := pool.Submit(context.Background(), task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case result := <-results:
		if !result.Success {
			t.Errorf("Task should succeed")
		}
		if result.TaskID != "task-1" {
			t.Errorf("Expected task ID 'task-1', got %s", result.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for result")
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool("test", 1)
	defer pool.Shutdown()

	err := pool.RunBatch(context.Background(), "panic", 1, func(context.Context, int) error {
		panic("exploded")
	})
	if err == nil {
		t.Fatal("Expected panic to surface as an error")
	}

	// The worker must still be alive.
	var ran int64
	err = pool.RunBatch(context.Background(), "after", 3, func(context.Context, int) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if atomic.LoadInt64(&ran) != 3 {
		t.Errorf("Expected 3 tasks, got %d", ran)
	}
	if pool.GetStats().Panics != 1 {
		t.Errorf("Expected 1 panic, got %d", pool.GetStats().Panics)
	}
}

func TestWorkerPoolRunBatch(t *testing.T) {
	pool := NewWorkerPool("test", 8)
	defer pool.Shutdown()

	const n = 500
	out := make([]int, n)
	err := pool.RunBatch(context.Background(), "square", n, func(_ context.Context, i int) error {
		out[i] = i * i
		return nil
	})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	for i, v := range out {
		if v != i*i {
			t.Fatalf("Expected %d at %d, got %d", i*i, i, v)
		}
	}
}

func TestWorkerPoolRunBatchReturnsLowestIndexError(t *testing.T) {
	pool := NewWorkerPool("test", 4)
	defer pool.Shutdown()

	err := pool.RunBatch(context.Background(), "errs", 20, func(_ context.Context, i int) error {
		if i%5 == 3 {
			return fmt.Errorf("task %d failed", i)
		}
		return nil
	})
	if err == nil || err.Error() != "task 3 failed" {
		t.Errorf("Expected error of task 3, got %v", err)
	}
}

func TestWorkerPoolRunBatchCancelled(t *testing.T) {
	pool := NewWorkerPool("test", 2)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	err := pool.RunBatch(ctx, "cancelled", 10, func(context.Context, int) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if atomic.LoadInt64(&ran) != 0 {
		t.Errorf("Expected no task to run, got %d", ran)
	}
}

func TestWorkerPoolConcurrency(t *testing.T) {
	pool := NewWorkerPool("test", 8)
	defer pool.Shutdown()

	var inFlight, maxInFlight int64
	err := pool.RunBatch(context.Background(), "load", 100, func(context.Context, int) error {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if maxInFlight > 8 {
		t.Errorf("Expected at most 8 concurrent tasks, saw %d", maxInFlight)
	}
}

func TestWorkerPoolShutdown(t *testing.T) {
	pool := NewWorkerPool("test", 4)

	var wg sync.WaitGroup
	wg.Add(1)
	task := NewTask("task-1", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}).OnDone(func(*Result) { wg.Done() })
	_ = pool.Submit(context.Background(), task)
	wg.Wait()

	pool.Shutdown()

	if pool.IsRunning() {
		t.Error("Pool should not be running after shutdown")
	}
	if err := pool.Submit(context.Background(), task); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	// A second shutdown is a no-op.
	pool.Shutdown()
}

func TestWorkerPoolStats(t *testing.T) {
	pool := NewWorkerPool("stats-test", 2)
	defer pool.Shutdown()

	_ = pool.RunBatch(context.Background(), "mixed", 8, func(_ context.Context, i int) error {
		if i >= 5 {
			return errors.New("fail")
		}
		return nil
	})

	stats := pool.GetStats()
	if stats.Completed != 5 {
		t.Errorf("Expected 5 completed, got %d", stats.Completed)
	}
	if stats.Failed != 3 {
		t.Errorf("Expected 3 failed, got %d", stats.Failed)
	}
}

func BenchmarkWorkerPoolRunBatch(b *testing.B) {
	pool := NewWorkerPool("bench", 8)
	defer pool.Shutdown()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.RunBatch(context.Background(), "bench", 64, func(context.Context, int) error {
			return nil
		})
	}
}
