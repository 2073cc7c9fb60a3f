package panel

import (
	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"golang.org/x/sys/unix"
)

const (
	ErrWouldBlock        = errors.ErrorCode("panel_would_block")
	ErrDeviceGone        = errors.ErrorCode("panel_device_gone")
	ErrPipeStalled       = errors.ErrorCode("panel_pipe_stalled")
	ErrIOFailure         = errors.ErrorCode("panel_io_failure")
	ErrAllocationFailure = errors.ErrorCode("panel_allocation_failure")
	ErrInvalidConfig     = errors.ErrInvalidConfig
	ErrInvalidOperation  = errors.ErrInvalidOperation
)

func init() {
	errors.RegisterMessage(ErrWouldBlock, "Too many writes in flight")
	errors.RegisterMessage(ErrDeviceGone, "Front panel is disconnected")
	errors.RegisterMessage(ErrPipeStalled, "Front panel endpoint stalled")
	errors.RegisterMessage(ErrIOFailure, "Front panel I/O failure")
	errors.RegisterMessage(ErrAllocationFailure, "Failed to allocate transfer")
}

// statusErrno extracts the errno carried by a completion or submission
// status. Anything that is not an errno counts as EIO.
func statusErrno(status error) unix.Errno {
	if status == nil {
		return 0
	}

	var errno unix.Errno
	if errors.As(status, &errno) {
		return errno
	}

	return unix.EIO
}

// isBenign reports completion statuses caused by cancellation the driver
// itself started.
func isBenign(errno unix.Errno) bool {
	switch errno {
	case unix.ENOENT, unix.ECONNRESET, unix.ESHUTDOWN:
		return true
	default:
		return false
	}
}

// latchedError converts a status taken from the error latch. A stall is kept
// so the caller can start reset recovery and a removal reports the device
// gone; everything else is an I/O failure.
func latchedError(errno unix.Errno) error {
	errFactory := errors.New()

	switch errno {
	case unix.EPIPE:
		return errFactory.Wrap(ErrPipeStalled, errno)
	case unix.ENODEV:
		return errFactory.Wrap(ErrDeviceGone, errno)
	default:
		return errFactory.Wrap(ErrIOFailure, errno)
	}
}

// submitError classifies a synchronous transport failure.
func submitError(err error) error {
	errFactory := errors.New()

	switch statusErrno(err) {
	case unix.ENOMEM:
		return errFactory.Wrap(ErrAllocationFailure, err)
	case unix.EAGAIN:
		return errFactory.Wrap(ErrWouldBlock, err)
	case unix.ENODEV, unix.ESHUTDOWN:
		return errFactory.Wrap(ErrDeviceGone, err)
	case unix.EPIPE:
		return errFactory.Wrap(ErrPipeStalled, err)
	default:
		return errFactory.Wrap(ErrIOFailure, err)
	}
}
