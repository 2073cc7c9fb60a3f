package panel

import (
	"sync"
	"time"
)

// anchor tracks in-flight operations so teardown can wait for or kill them.
type anchor struct {
	mu    sync.Mutex
	ops   map[*operation]struct{}
	empty chan struct{} // closed while ops is empty
}

func newAnchor() *anchor {
	empty := make(chan struct{})
	close(empty)

	return &anchor{
		ops:   make(map[*operation]struct{}),
		empty: empty,
	}
}

func (a *anchor) add(op *operation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.ops) == 0 {
		a.empty = make(chan struct{})
	}
	a.ops[op] = struct{}{}
}

func (a *anchor) remove(op *operation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.ops[op]; !ok {
		return
	}
	delete(a.ops, op)
	if len(a.ops) == 0 {
		close(a.empty)
	}
}

func (a *anchor) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.ops)
}

// waitEmpty blocks until no operation is tracked or timeout elapses, and
// reports whether the anchor drained.
func (a *anchor) waitEmpty(timeout time.Duration) bool {
	a.mu.Lock()
	empty := a.empty
	a.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-empty:
		return true
	case <-timer.C:
		return false
	}
}

// killAll cancels every tracked operation and waits until each one has run
// its completion. Operations added after the snapshot are left alone.
func (a *anchor) killAll() int {
	a.mu.Lock()
	ops := make([]*operation, 0, len(a.ops))
	for op := range a.ops {
		ops = append(ops, op)
	}
	a.mu.Unlock()

	for _, op := range ops {
		op.cancel()
	}
	for _, op := range ops {
		<-op.finished
	}

	return len(ops)
}
