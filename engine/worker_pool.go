package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrPoolClosed is returned when submitting to a pool that was shut down.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is a unit of work run by the pool.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
	// Ctx is passed to Run. A task whose Ctx is done when a worker picks
	// it up fails without running.
	Ctx context.Context

	done func(*Result)
}

// NewTask creates a task bound to the background context.
func NewTask(id string, fn func(ctx context.Context) error) *Task {
	return &Task{ID: id, Run: fn, Ctx: context.Background()}
}

// OnDone registers a callback invoked with the task's result.
func (t *Task) OnDone(fn func(*Result)) *Task {
	t.done = fn
	return t
}

// Result describes how a task ended.
type Result struct {
	TaskID   string
	Success  bool
	Error    error
	Duration time.Duration
	WorkerID int
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Panics    int64  `json:"panics"`
	Pending   int    `json:"pending"`
}

// WorkerPool runs tasks on a fixed set of goroutines.
type WorkerPool struct {
	name     string
	workers  int
	taskChan chan *Task
	wg       sync.WaitGroup

	active    int64
	completed int64
	failed    int64
	panics    int64

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(name string, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		name:     name,
		workers:  workers,
		taskChan: make(chan *Task, workers*16),
		ctx:      ctx,
		cancel:   cancel,
		running:  true,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int { return p.workers }

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskChan:
			p.processTask(id, task)
		}
	}
}

func (p *WorkerPool) processTask(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result := &Result{
		TaskID:   task.ID,
		WorkerID: workerID,
	}

	// One panicking task must not take the pool down.
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.panics, 1)
			result.Success = false
			result.Error = errors.Newf("panic in task %s: %s", task.ID, panicToString(r))
		}
		result.Duration = time.Since(start)
		if result.Success {
			atomic.AddInt64(&p.completed, 1)
		} else {
			atomic.AddInt64(&p.failed, 1)
		}
		if task.done != nil {
			task.done(result)
		}
	}()

	ctx := task.Ctx
	if ctx == nil {
		ctx = p.ctx
	}
	if err := ctx.Err(); err != nil {
		result.Error = err
		return
	}

	if task.Run == nil {
		result.Error = errors.New("no run function defined")
		return
	}
	result.Error = task.Run(ctx)
	result.Success = result.Error == nil
}

func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Submit queues a task, blocking while the queue is full. It fails if the
// pool is shut down or ctx is done first.
func (p *WorkerPool) Submit(ctx context.Context, task *Task) error {
	if !p.IsRunning() {
		return ErrPoolClosed
	}

	select {
	case p.taskChan <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunBatch runs fn(0..n-1) on the pool and waits for all of them. It
// returns the error of the lowest index that failed, so the outcome does
// not depend on completion order.
func (p *WorkerPool) RunBatch(ctx context.Context, name string, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)

	submitted := 0
	var submitErr error
	for i := 0; i < n; i++ {
		task := NewTask(fmt.Sprintf("%s-%d", name, i), func(ctx context.Context) error {
			return fn(ctx, i)
		})
		task.Ctx = ctx
		task.OnDone(func(r *Result) {
			errs[i] = r.Error
			wg.Done()
		})
		if err := p.Submit(ctx, task); err != nil {
			submitErr = err
			break
		}
		submitted++
	}
	// Unsubmitted tasks never call done.
	for i := submitted; i < n; i++ {
		wg.Done()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-p.ctx.Done():
		return ErrPoolClosed
	}

	for _, err := range errs[:submitted] {
		if err != nil {
			return err
		}
	}
	return submitErr
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	return PoolStats{
		Name:      p.name,
		Workers:   p.workers,
		Active:    atomic.LoadInt64(&p.active),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Panics:    atomic.LoadInt64(&p.panics),
		Pending:   len(p.taskChan),
	}
}

// Shutdown stops the workers and waits for running tasks to return.
// Queued tasks that have not started are dropped.
func (p *WorkerPool) Shutdown() {
	if !p.stop() {
		return
	}
	p.wg.Wait()
}

func (p *WorkerPool) stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	p.running = false
	p.cancel()
	return true
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
