package anomaly

import (
	"context"
	"sync"
	"sync/atomic"
)

// Worker executes detection jobs off the request path. Submission never
// blocks: when the buffer is full the job is dropped and counted, because
// detection is advisory and must not backpressure logins. Each job runs
// inside a recover boundary so a panicking detector cannot take down the
// process.
type Worker struct {
	ch        chan func(context.Context)
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewWorker starts the background goroutine. buffer defaults to 64.
func NewWorker(buffer int) *Worker {
	if buffer <= 0 {
		buffer = 64
	}

	w := &Worker{
		ch:   make(chan func(context.Context), buffer),
		done: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case job := <-w.ch:
			w.execute(job)
		case <-w.done:
			for {
				select {
				case job := <-w.ch:
					w.execute(job)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) execute(job func(context.Context)) {
	defer func() {
		_ = recover() // error boundary: a failed detection only ever logs
	}()
	job(context.Background())
}

// Submit enqueues a job, dropping it when the worker is saturated or closed.
func (w *Worker) Submit(job func(context.Context)) {
	if w == nil || job == nil || w.closed.Load() {
		return
	}

	select {
	case w.ch <- job:
	case <-w.done:
	default:
		w.dropped.Add(1)
	}
}

// Close drains pending jobs and stops the worker.
func (w *Worker) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
		w.wg.Wait()
	})
}

// Dropped returns how many jobs were discarded due to saturation.
func (w *Worker) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}
