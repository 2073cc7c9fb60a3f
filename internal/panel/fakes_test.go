package panel

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"
)

// fakeTransport keeps submissions pending until the test completes them or
// their context is cancelled.
type fakeTransport struct {
	mu        sync.Mutex
	pending   []*fakeTransfer
	writes    [][]byte
	submitErr error
	cancelled int
	closed    int
}

type fakeTransfer struct {
	buf  []byte
	once sync.Once
	done func(error)
}

func (f *fakeTransfer) finish(status error) (ran bool) {
	f.once.Do(func() {
		ran = true
		f.done(status)
	})
	return ran
}

func (t *fakeTransport) SubmitAsync(ctx context.Context, buf []byte, done func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.submitErr != nil {
		return t.submitErr
	}

	xfer := &fakeTransfer{buf: append([]byte(nil), buf...), done: done}
	t.pending = append(t.pending, xfer)
	t.writes = append(t.writes, xfer.buf)

	go func() {
		<-ctx.Done()
		if xfer.finish(unix.ENOENT) {
			t.mu.Lock()
			t.cancelled++
			t.mu.Unlock()
		}
	}()

	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	return nil
}

// completeNext finishes the oldest pending transfer with status.
func (t *fakeTransport) completeNext(status error) bool {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return false
	}
	xfer := t.pending[0]
	t.pending = t.pending[1:]
	t.mu.Unlock()

	xfer.finish(status)
	return true
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

func (t *fakeTransport) lastWrite() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.writes) == 0 {
		return nil
	}
	return t.writes[len(t.writes)-1]
}

func (t *fakeTransport) cancelCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeCPUs returns whatever snapshot the test set last.
type fakeCPUs struct {
	mu    sync.Mutex
	times []CoreTimes
	err   error
}

func (c *fakeCPUs) set(times ...CoreTimes) {
	c.mu.Lock()
	c.times = times
	c.mu.Unlock()
}

func (c *fakeCPUs) Times(_ context.Context) ([]CoreTimes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return append([]CoreTimes(nil), c.times...), nil
}
