package server

import (
	"fmt"
	"time"

	"github.com/chazu/objimpl/vm"
)

// heapRequest represents a unit of work to be executed on the heap goroutine.
type heapRequest struct {
	fn   func(*vm.Heap) any
	done chan heapResult
}

// heapResult holds the return value from a heap operation.
type heapResult struct {
	value any
	err   error
}

// HeapWorker serializes all heap access through a single goroutine.
// A heap has one mutator; every RPC handler goes through the worker.
type HeapWorker struct {
	heap     *vm.Heap
	requests chan heapRequest
	quit     chan struct{}
}

// NewHeapWorker creates a HeapWorker and starts the processing goroutine.
func NewHeapWorker(h *vm.Heap) *HeapWorker {
	w := &HeapWorker{
		heap:     h,
		requests: make(chan heapRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop serves requests and, between them, runs the incremental steps the
// collector's pacer asks for.
func (w *HeapWorker) loop() {
	var tick <-chan time.Time
	if interval := w.heap.Config().PaceInterval; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-tick:
			w.heap.Collector().Poll()
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the heap, recovering from panics.
func (w *HeapWorker) execute(fn func(*vm.Heap) any) heapResult {
	var result heapResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.heap)
	}()
	return result
}

// Do submits a function for execution on the heap goroutine and blocks
// until it completes. Returns the result and any error (including panics).
func (w *HeapWorker) Do(fn func(*vm.Heap) any) (any, error) {
	req := heapRequest{
		fn:   fn,
		done: make(chan heapResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine.
func (w *HeapWorker) Stop() {
	close(w.quit)
}

// Heap returns the underlying heap. Only its thread-safe accessors, such as
// ID, may be used outside Do.
func (w *HeapWorker) Heap() *vm.Heap {
	return w.heap
}
