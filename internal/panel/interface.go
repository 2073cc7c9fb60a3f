package panel

import "context"

// Transport submits byte buffers to the output device asynchronously.
//
// SubmitAsync must not block on the device. When it returns nil, done is
// invoked exactly once, from any goroutine, with nil on success or a
// unix.Errno status. When it returns an error, done is never invoked.
// Cancelling ctx before the transfer finishes completes it with unix.ENOENT.
// A device that has been removed is reported as unix.ENODEV.
type Transport interface {
	SubmitAsync(ctx context.Context, buf []byte, done func(status error)) error
	Close() error
}

// Resetter is implemented by transports that can reset the device port.
type Resetter interface {
	Reset() error
}

// CoreTimes holds cumulative counters for one logical core, in microseconds.
type CoreTimes struct {
	Core int
	Idle uint64
	Wall uint64
}

// CPUSource enumerates online cores and reads their cumulative idle and
// wall time in a single snapshot.
type CPUSource interface {
	Times(ctx context.Context) ([]CoreTimes, error)
}
