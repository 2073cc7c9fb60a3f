package transport

import (
	"context"
	"io"
	"time"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"codeberg.org/mutker/frontpanelctl/internal/logger"
	"github.com/goburrow/serial"
	"golang.org/x/sys/unix"
)

type SerialConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
	// QueueSize bounds the writes waiting for the port
	QueueSize int
}

// Serial streams frames over a serial line. One goroutine owns the port and
// writes queued frames in submission order.
type Serial struct {
	port io.WriteCloser
	log  logger.Logger
	q    *writeQueue
}

func OpenSerial(cfg SerialConfig, log logger.Logger) (*Serial, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, errors.New().Wrap(ErrOpenDevice, err)
	}

	log.Info().
		Str("port", cfg.Port).
		Int("baud_rate", cfg.BaudRate).
		Msg("Serial port opened")

	return newSerial(port, cfg.QueueSize, log), nil
}

func newSerial(port io.WriteCloser, queueSize int, log logger.Logger) *Serial {
	s := &Serial{
		port: port,
		log:  log,
	}
	s.q = newWriteQueue(queueSize, s.write)

	return s
}

func (s *Serial) SubmitAsync(ctx context.Context, buf []byte, done func(error)) error {
	return s.q.submit(ctx, buf, done)
}

func (s *Serial) write(_ context.Context, buf []byte) error {
	if _, err := s.port.Write(buf); err != nil {
		s.log.Debug().Err(err).Msg("Serial write failed")
		return unix.EIO
	}

	return nil
}

// Close fails queued writes with ESHUTDOWN and closes the port.
func (s *Serial) Close() error {
	if !s.q.shutdown() {
		return nil
	}

	// closing the port unblocks a write in progress
	err := s.port.Close()
	s.q.wait()

	if err != nil {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
