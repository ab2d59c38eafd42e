package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/clientserver/interp"
)

// ErrWorkerStopped is returned by Do once the worker has been stopped.
var ErrWorkerStopped = errors.New("worker stopped")

// workRequest is a unit of work to be executed on the worker goroutine.
type workRequest struct {
	fn   func(*interp.Interpreter) any
	done chan workResult
}

type workResult struct {
	value any
	err   error
}

// Worker serializes all access to one interpreter through a single
// goroutine. The interpreter is not safe for concurrent use; every RPC
// handler touching a session goes through its worker.
type Worker struct {
	in       *interp.Interpreter
	requests chan workRequest
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker and starts its goroutine.
func NewWorker(in *interp.Interpreter) *Worker {
	w := &Worker{
		in:       in,
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			w.in.Close()
			return
		}
	}
}

// execute runs fn on the interpreter, recovering from panics.
func (w *Worker) execute(fn func(*interp.Interpreter) any) (result workResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker recovered from panic: %v", r)
			result.err = fmt.Errorf("%v", r)
		}
	}()
	result.value = fn(w.in)
	return result
}

// Do runs fn on the worker goroutine and waits for it. If ctx ends first
// Do returns ctx.Err(); fn may still run.
func (w *Worker) Do(ctx context.Context, fn func(*interp.Interpreter) any) (any, error) {
	req := workRequest{fn: fn, done: make(chan workResult, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.done:
		select {
		case res := <-req.done:
			return res.value, res.err
		default:
			return nil, ErrWorkerStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts the worker down, closes its interpreter and waits for the
// goroutine to exit. Requests still queued are dropped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}
