package transport

import (
	"context"
	"time"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"codeberg.org/mutker/frontpanelctl/internal/logger"
	"github.com/google/gousb"
	"golang.org/x/sys/unix"
)

type USBConfig struct {
	Vendor  uint16
	Product uint16
	// Timeout bounds a single bulk transfer
	Timeout time.Duration
	// QueueSize bounds the transfers waiting for the endpoint
	QueueSize int
}

type outEndpoint interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// USB writes frames to the first bulk OUT endpoint of the panel's default
// interface. Transfers run one at a time in submission order.
type USB struct {
	cfg     USBConfig
	log     logger.Logger
	ep      outEndpoint
	dev     *gousb.Device
	release func() error
	q       *writeQueue
}

func OpenUSB(cfg USBConfig, log logger.Logger) (*USB, error) {
	errFactory := errors.New()

	usbCtx := gousb.NewContext()

	dev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(cfg.Vendor), gousb.ID(cfg.Product))
	if err != nil {
		usbCtx.Close()
		return nil, errFactory.Wrap(ErrOpenDevice, err)
	}
	if dev == nil {
		usbCtx.Close()
		return nil, errFactory.WithData(ErrOpenDevice, gousb.ID(cfg.Vendor).String()+":"+gousb.ID(cfg.Product).String())
	}

	if err := dev.SetAutoDetach(true); err != nil {
		log.Debug().Err(err).Msg("Kernel driver auto-detach not supported")
	}

	intf, closeIntf, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usbCtx.Close()
		return nil, errFactory.Wrap(ErrOpenDevice, err)
	}

	release := func() error {
		closeIntf()
		err := dev.Close()
		if cerr := usbCtx.Close(); err == nil {
			err = cerr
		}
		return err
	}

	num, ok := bulkOutEndpoint(intf.Setting.Endpoints)
	if !ok {
		release()
		return nil, errFactory.New(ErrNoEndpoint)
	}

	ep, err := intf.OutEndpoint(num)
	if err != nil {
		release()
		return nil, errFactory.Wrap(ErrOpenDevice, err)
	}

	log.Info().
		Str("device", dev.String()).
		Int("endpoint", num).
		Msg("USB device opened")

	return newUSB(cfg, ep, dev, release, log), nil
}

func newUSB(cfg USBConfig, ep outEndpoint, dev *gousb.Device, release func() error, log logger.Logger) *USB {
	u := &USB{
		cfg:     cfg,
		log:     log,
		ep:      ep,
		dev:     dev,
		release: release,
	}
	u.q = newWriteQueue(cfg.QueueSize, u.write)

	return u
}

// bulkOutEndpoint returns the lowest numbered bulk OUT endpoint.
func bulkOutEndpoint(endpoints map[gousb.EndpointAddress]gousb.EndpointDesc) (int, bool) {
	found := false
	num := 0
	for _, desc := range endpoints {
		if desc.Direction != gousb.EndpointDirectionOut || desc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if !found || desc.Number < num {
			num = desc.Number
			found = true
		}
	}

	return num, found
}

func (u *USB) SubmitAsync(ctx context.Context, buf []byte, done func(error)) error {
	return u.q.submit(ctx, buf, done)
}

func (u *USB) write(ctx context.Context, buf []byte) error {
	xferCtx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	n, err := u.ep.WriteContext(xferCtx, buf)
	if err == nil && n < len(buf) {
		u.log.Debug().Int("written", n).Int("size", len(buf)).Msg("Short USB write")
		err = gousb.ErrorIO
	}

	return usbStatus(ctx, err)
}

// usbStatus maps a transfer result to the errno the panel expects. parent is
// the caller's context; a cancelled parent wins over whatever the transfer
// reported.
func usbStatus(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return unix.ENOENT
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return unix.ETIMEDOUT
	case errors.Is(err, context.Canceled):
		return unix.ENOENT
	}

	var status gousb.TransferStatus
	if errors.As(err, &status) {
		switch status {
		case gousb.TransferStall:
			return unix.EPIPE
		case gousb.TransferNoDevice:
			return unix.ENODEV
		case gousb.TransferTimedOut, gousb.TransferCancelled:
			// per-transfer timeouts surface as cancellations
			return unix.ETIMEDOUT
		case gousb.TransferOverflow:
			return unix.EOVERFLOW
		default:
			return unix.EIO
		}
	}

	var usbErr gousb.Error
	if errors.As(err, &usbErr) {
		switch usbErr {
		case gousb.ErrorPipe:
			return unix.EPIPE
		case gousb.ErrorNoDevice, gousb.ErrorNotFound:
			return unix.ENODEV
		case gousb.ErrorTimeout:
			return unix.ETIMEDOUT
		case gousb.ErrorNoMem:
			return unix.ENOMEM
		}
	}

	return unix.EIO
}

// Reset performs a USB port reset.
func (u *USB) Reset() error {
	if err := u.dev.Reset(); err != nil {
		return errors.New().Wrap(ErrResetDevice, err)
	}

	return nil
}

// Close waits for the transfer in progress, fails queued ones and releases
// the device.
func (u *USB) Close() error {
	if !u.q.shutdown() {
		return nil
	}
	u.q.wait()

	if err := u.release(); err != nil {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	u.log.Debug().Msg("USB device closed")

	return nil
}
