// ============================================================================
// Beaver-Migrate Worker - Batch Processing Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Work unit that runs the injected Handler, one goroutine per Worker
//
// How it works:
//   Each Worker loops until the pool stops:
//   1. Receive task from taskCh
//   2. Run the Handler under a per-task timeout
//   3. Send result to resultCh (blocking, results are never dropped)
//   4. On stop, drain whatever is still buffered in taskCh, then exit
//
// Execution Model:
//   ┌─────────────────────────────────────┐
//   │  Worker Goroutine                   │
//   │  ┌──────────────────────────────┐   │
//   │  │ select taskCh / stopCh       │   │
//   │  │   ├─ Context with timeout    │   │
//   │  │   ├─ handler(ctx, task)      │   │
//   │  │   └─ send result to resultCh │   │
//   │  └──────────────────────────────┘   │
//   └─────────────────────────────────────┘
//
// Error Handling:
//   - Timeout error: the handler observes ctx and returns DeadlineExceeded
//   - Handler panic: recovered and reported as a failed Result
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"time"
)

// Worker represents a work execution unit
type Worker struct {
	id       int           // Worker identifier, used for logging
	handler  Handler       // Task logic
	taskCh   <-chan Task   // Task channel (read-only)
	resultCh chan<- Result // Result channel (write-only)
	stopCh   <-chan struct{}
}

// newWorker creates a new Worker instance
func newWorker(id int, handler Handler, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:       id,
		handler:  handler,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for {
		select {
		case task := <-w.taskCh:
			w.process(task)
		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

// drain processes tasks accepted before the pool stopped
func (w *Worker) drain() {
	for {
		select {
		case task := <-w.taskCh:
			w.process(task)
		default:
			return
		}
	}
}

func (w *Worker) process(task Task) {
	start := time.Now()
	err := w.execute(task)

	w.resultCh <- Result{
		Ticket:   task.Ticket,
		Success:  err == nil,
		Error:    err,
		Duration: time.Since(start),
	}
}

// execute runs the handler under the task timeout
func (w *Worker) execute(task Task) (err error) {
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker recovered from panic", "worker", w.id, "ticket", task.Ticket, "panic", r)
			err = fmt.Errorf("worker %d panicked: %v", w.id, r)
		}
	}()

	return w.handler(ctx, task)
}
