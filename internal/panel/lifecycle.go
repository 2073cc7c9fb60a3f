package panel

import (
	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"golang.org/x/sys/unix"
)

// Detach is called when the device is removed. It stops the sampler, refuses
// further writes, cancels what is in flight and drops the attach reference.
// Calling it again has no effect.
func (d *Device) Detach() {
	d.detachOnce.Do(func() {
		d.sampler.Stop()

		// prevent more I/O from starting
		d.ioMu.Lock()
		d.disconnected = true
		d.ioMu.Unlock()
		d.gone.Store(true)

		killed := d.anchor.killAll()
		d.log.Info().Int("cancelled", killed).Msg("Front panel detached")

		d.Release()
	})
}

// Suspend waits for pending writes, cancelling those that outlast the drain
// timeout. The sampler keeps running.
func (d *Device) Suspend() error {
	d.drawDown()
	return nil
}

func (d *Device) Resume() error {
	d.log.Debug().Msg("Front panel resumed")
	return nil
}

// PreReset blocks new submissions and drains pending writes. The disconnect
// guard stays held until PostReset.
func (d *Device) PreReset() error {
	d.ioMu.Lock()
	d.resetting.Store(true)
	d.drawDown()

	return nil
}

// PostReset latches a stall so the next write reports the reset, then lets
// submissions through again.
func (d *Device) PostReset() error {
	if !d.resetting.CompareAndSwap(true, false) {
		return errors.New().WithMessage(ErrInvalidOperation, "post-reset without matching pre-reset")
	}

	// no writes are in flight here
	d.latch.Set(unix.EPIPE)
	d.ioMu.Unlock()

	return nil
}

// drawDown reports how many operations had to be cancelled.
func (d *Device) drawDown() int {
	if d.anchor.waitEmpty(d.cfg.DrainTimeout) {
		return 0
	}

	killed := d.anchor.killAll()
	d.log.Warn().
		Int("cancelled", killed).
		Dur("timeout", d.cfg.DrainTimeout).
		Msg("Pending writes did not drain in time")

	return killed
}
