package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const defaultQueueSize = 16

// writeQueue hands buffers to a single writer goroutine, so frames reach the
// device in submission order.
type writeQueue struct {
	write func(ctx context.Context, buf []byte) error

	mu      sync.Mutex
	items   chan *queuedWrite
	closed  bool
	closing atomic.Bool
	done    chan struct{}
}

type queuedWrite struct {
	ctx      context.Context
	buf      []byte
	once     sync.Once
	callback func(error)
	finished chan struct{}
}

// complete reports status unless the write already finished.
func (w *queuedWrite) complete(status error) {
	w.once.Do(func() {
		close(w.finished)
		w.callback(status)
	})
}

// newWriteQueue starts the writer. write returns nil or the errno status
// for one buffer.
func newWriteQueue(size int, write func(ctx context.Context, buf []byte) error) *writeQueue {
	if size <= 0 {
		size = defaultQueueSize
	}

	q := &writeQueue{
		write: write,
		items: make(chan *queuedWrite, size),
		done:  make(chan struct{}),
	}
	go q.run()

	return q
}

func (q *writeQueue) submit(ctx context.Context, buf []byte, done func(error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return unix.ESHUTDOWN
	}

	w := &queuedWrite{
		ctx:      ctx,
		buf:      buf,
		callback: done,
		finished: make(chan struct{}),
	}

	select {
	case q.items <- w:
	default:
		return unix.EAGAIN
	}

	// a queued or blocked write must still complete promptly when cancelled
	go func() {
		select {
		case <-ctx.Done():
			w.complete(unix.ENOENT)
		case <-w.finished:
		}
	}()

	return nil
}

func (q *writeQueue) run() {
	defer close(q.done)

	for w := range q.items {
		if q.closing.Load() {
			w.complete(unix.ESHUTDOWN)
			continue
		}
		if w.ctx.Err() != nil {
			w.complete(unix.ENOENT)
			continue
		}

		w.complete(q.write(w.ctx, w.buf))
	}
}

// shutdown refuses further submissions and makes the writer fail what is
// still queued. It reports false if the queue was already shut down.
func (q *writeQueue) shutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.closing.Store(true)
	close(q.items)

	return true
}

// wait blocks until the writer has drained the queue.
func (q *writeQueue) wait() {
	<-q.done
}

// pending returns the number of writes not yet picked up by the writer.
func (q *writeQueue) pending() int {
	return len(q.items)
}
