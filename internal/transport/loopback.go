package transport

import (
	"context"
	"sync"

	"codeberg.org/mutker/frontpanelctl/internal/logger"
	"golang.org/x/sys/unix"
)

// Loopback accepts every frame and only logs it. It stands in for the panel
// on machines that do not have one.
type Loopback struct {
	log logger.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewLoopback(log logger.Logger) *Loopback {
	return &Loopback{log: log}
}

func (l *Loopback) SubmitAsync(ctx context.Context, buf []byte, done func(error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return unix.ESHUTDOWN
	}

	l.pending.Add(1)
	go func() {
		defer l.pending.Done()

		if ctx.Err() != nil {
			done(unix.ENOENT)
			return
		}
		l.log.Debug().Hex("payload", buf).Msg("Frame")
		done(nil)
	}()

	return nil
}

// Reset is a no-op.
func (l *Loopback) Reset() error {
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.pending.Wait()

	return nil
}
