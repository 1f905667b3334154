package rawwriter

import (
	"fmt"
	"io"
	"runtime"
	"sync"
)

// writeRequest is one queued block write
type writeRequest struct {
	block  []byte
	offset int64
}

// queueEngine performs submitted writes with pwrite on a dedicated OS thread.
// Requests and completions are buffered channels of capacity depth, so
// Submit never blocks while fewer than depth writes are pending.
type queueEngine struct {
	file    io.WriterAt
	depth   int
	pending int

	requests    chan writeRequest
	completions chan error
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func newQueueEngine(file io.WriterAt, depth int) *queueEngine {
	q := &queueEngine{
		file:        file,
		depth:       depth,
		requests:    make(chan writeRequest, depth),
		completions: make(chan error, depth),
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// worker drains the request queue in submission order
func (q *queueEngine) worker() {
	defer q.wg.Done()

	// Keep blocking pwrite calls off the scheduler threads running the producer
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for req := range q.requests {
		n, err := q.file.WriteAt(req.block, req.offset)
		if err == nil && n != len(req.block) {
			err = fmt.Errorf("%w: wrote %d of %d bytes at offset %d",
				errShortCompletion, n, len(req.block), req.offset)
		}
		q.completions <- err
	}
}

// Submit enqueues a write without waiting for it
func (q *queueEngine) Submit(block []byte, offset int64) error {
	if q.pending == q.depth {
		return ErrPipelineFull
	}
	q.requests <- writeRequest{block: block, offset: offset}
	q.pending++
	return nil
}

// Await blocks until n writes complete
func (q *queueEngine) Await(n int) (int, error) {
	if n > q.pending {
		return 0, fmt.Errorf("%w: awaiting %d with %d outstanding", ErrCompletionMismatch, n, q.pending)
	}

	var firstErr error
	for i := 0; i < n; i++ {
		firstErr = joinCompletionErr(firstErr, <-q.completions)
	}
	q.pending -= n

	return n, firstErr
}

// Pending returns the number of submitted writes not yet awaited
func (q *queueEngine) Pending() int {
	return q.pending
}

// Name identifies the engine
func (q *queueEngine) Name() string {
	return string(EngineQueue)
}

// Close stops the worker after draining queued requests
func (q *queueEngine) Close() error {
	q.closeOnce.Do(func() {
		close(q.requests)
		q.wg.Wait()
	})
	return nil
}
