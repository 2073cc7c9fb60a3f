package panel

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"golang.org/x/sys/unix"
)

// operation is one asynchronous write handed to the transport. It owns its
// buffer and holds a slot reservation and a device reference until it
// completes.
type operation struct {
	dev      *Device
	res      *reservation
	buf      []byte
	ctx      context.Context
	cancel   context.CancelFunc
	done     atomic.Bool
	finished chan struct{}
}

// Write submits payload to the device without waiting for it to be sent.
// At most Channels bytes are taken. It returns the number of bytes accepted.
func (d *Device) Write(payload []byte) (int, error) {
	errFactory := errors.New()

	if d.gone.Load() {
		return 0, errFactory.New(ErrDeviceGone)
	}
	if len(payload) == 0 {
		return 0, nil
	}

	// limit the number of writes in flight
	res, err := d.slots.Reserve()
	if err != nil {
		return 0, err
	}

	// any error is reported once
	if status := d.latch.Take(); status != 0 {
		res.Release()
		return 0, latchedError(status)
	}

	n := min(len(payload), d.cfg.Channels)
	buf := make([]byte, n)
	copy(buf, payload)

	d.ioMu.Lock()
	if d.disconnected {
		d.ioMu.Unlock()
		res.Release()
		return 0, errFactory.New(ErrDeviceGone)
	}

	op := d.newOperation(res, buf)
	d.anchor.add(op)
	err = d.transport.SubmitAsync(op.ctx, buf, op.complete)
	d.ioMu.Unlock()

	if err != nil {
		op.abandon()
		d.log.Error().Err(err).Msg("Failed submitting write")
		if statusErrno(err) == unix.ENODEV {
			d.markLost()
		}
		return 0, submitError(err)
	}

	return n, nil
}

func (d *Device) newOperation(res *reservation, buf []byte) *operation {
	ctx, cancel := context.WithCancel(context.Background())
	d.Acquire()

	return &operation{
		dev:      d,
		res:      res,
		buf:      buf,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
}

// complete is the transport callback. Cancellation started by the driver is
// not an error; anything else is latched for the next write. A removed
// device also stops accepting writes.
func (op *operation) complete(status error) {
	if !op.done.CompareAndSwap(false, true) {
		return
	}

	if status != nil {
		errno := statusErrno(status)
		if !isBenign(errno) {
			op.dev.log.Error().
				Err(status).
				Int("status", int(errno)).
				Msg("Nonzero write status received")
			op.dev.latch.Set(errno)
		}
		if errno == unix.ENODEV {
			op.dev.markLost()
		}
	}

	op.finish()
}

// abandon tears down an operation the transport refused.
func (op *operation) abandon() {
	if op.done.CompareAndSwap(false, true) {
		op.finish()
	}
}

func (op *operation) finish() {
	d := op.dev

	op.buf = nil
	op.cancel()
	op.res.Release()
	d.Release()
	d.anchor.remove(op)
	close(op.finished)
}
