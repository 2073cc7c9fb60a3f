package panel

import (
	"sync/atomic"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
)

// slotPool bounds the number of writes in flight. Reserve never blocks.
type slotPool struct {
	capacity int32
	inUse    atomic.Int32
}

// reservation is one held slot. Release is safe to call more than once.
type reservation struct {
	pool     *slotPool
	released atomic.Bool
}

func newSlotPool(capacity int) *slotPool {
	return &slotPool{capacity: int32(capacity)}
}

func (p *slotPool) Reserve() (*reservation, error) {
	for {
		n := p.inUse.Load()
		if n >= p.capacity {
			return nil, errors.New().New(ErrWouldBlock)
		}
		if p.inUse.CompareAndSwap(n, n+1) {
			return &reservation{pool: p}, nil
		}
	}
}

func (p *slotPool) InUse() int {
	return int(p.inUse.Load())
}

func (p *slotPool) Capacity() int {
	return int(p.capacity)
}

func (r *reservation) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.pool.inUse.Add(-1)
	}
}
