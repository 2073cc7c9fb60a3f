package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/frontpanelctl/internal/logger"
	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeEndpoint records transfers. block makes every transfer wait for its
// context; err fails every transfer.
type fakeEndpoint struct {
	mu     sync.Mutex
	frames [][]byte
	block  bool
	err    error
}

func (e *fakeEndpoint) WriteContext(ctx context.Context, buf []byte) (int, error) {
	if e.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	// jitter so that any reordering would show
	time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return 0, e.err
	}
	e.frames = append(e.frames, append([]byte(nil), buf...))
	return len(buf), nil
}

func (e *fakeEndpoint) written() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.frames...)
}

func newTestUSB(ep outEndpoint, cfg USBConfig) (*USB, *int) {
	released := 0
	u := newUSB(cfg, ep, nil, func() error {
		released++
		return nil
	}, logger.Nop())
	return u, &released
}

func TestUSBStatus(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		parent context.Context
		err    error
		want   error
	}{
		{"success", live, nil, nil},
		{"stall", live, gousb.TransferStall, unix.EPIPE},
		{"pipe error", live, gousb.ErrorPipe, unix.EPIPE},
		{"unplugged", live, gousb.TransferNoDevice, unix.ENODEV},
		{"no device", live, gousb.ErrorNoDevice, unix.ENODEV},
		{"timeout", live, gousb.TransferTimedOut, unix.ETIMEDOUT},
		{"transfer deadline", live, context.DeadlineExceeded, unix.ETIMEDOUT},
		{"wrapped timeout", live, fmt.Errorf("write: %w", gousb.ErrorTimeout), unix.ETIMEDOUT},
		{"generic", live, gousb.TransferError, unix.EIO},
		{"unknown", live, assert.AnError, unix.EIO},
		{"cancelled by caller", cancelled, gousb.TransferCancelled, unix.ENOENT},
		{"cancelled despite stall", cancelled, gousb.TransferStall, unix.ENOENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := usbStatus(tt.parent, tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBulkOutEndpoint(t *testing.T) {
	endpoints := map[gousb.EndpointAddress]gousb.EndpointDesc{
		0x81: {Number: 1, Direction: gousb.EndpointDirectionIn, TransferType: gousb.TransferTypeBulk},
		0x03: {Number: 3, Direction: gousb.EndpointDirectionOut, TransferType: gousb.TransferTypeBulk},
		0x02: {Number: 2, Direction: gousb.EndpointDirectionOut, TransferType: gousb.TransferTypeBulk},
		0x01: {Number: 1, Direction: gousb.EndpointDirectionOut, TransferType: gousb.TransferTypeInterrupt},
	}

	num, ok := bulkOutEndpoint(endpoints)
	assert.True(t, ok)
	assert.Equal(t, 2, num)

	_, ok = bulkOutEndpoint(map[gousb.EndpointAddress]gousb.EndpointDesc{})
	assert.False(t, ok)
}

func TestUSBWritesInSubmissionOrder(t *testing.T) {
	ep := &fakeEndpoint{}
	u, released := newTestUSB(ep, USBConfig{Timeout: time.Second, QueueSize: 64})

	const frames = 50
	rec := newStatusRecorder(frames)
	for i := 0; i < frames; i++ {
		require.NoError(t, u.SubmitAsync(context.Background(), []byte{byte(i)}, rec.done))
	}
	for i := 0; i < frames; i++ {
		require.NoError(t, rec.next(t))
	}

	written := ep.written()
	require.Len(t, written, frames)
	for i, frame := range written {
		assert.Equal(t, []byte{byte(i)}, frame, "frame %d", i)
	}

	require.NoError(t, u.Close())
	require.NoError(t, u.Close())
	assert.Equal(t, 1, *released)
}

func TestUSBTransferTimeout(t *testing.T) {
	u, _ := newTestUSB(&fakeEndpoint{block: true}, USBConfig{Timeout: 10 * time.Millisecond})
	rec := newStatusRecorder(1)

	require.NoError(t, u.SubmitAsync(context.Background(), []byte{1}, rec.done))
	assert.Equal(t, unix.ETIMEDOUT, rec.next(t))
	require.NoError(t, u.Close())
}

func TestUSBUnplugReportsNoDevice(t *testing.T) {
	u, _ := newTestUSB(&fakeEndpoint{err: gousb.TransferNoDevice}, USBConfig{Timeout: time.Second})
	rec := newStatusRecorder(1)

	require.NoError(t, u.SubmitAsync(context.Background(), []byte{1}, rec.done))
	assert.Equal(t, unix.ENODEV, rec.next(t))
	require.NoError(t, u.Close())
}

func TestUSBCancelInFlight(t *testing.T) {
	u, _ := newTestUSB(&fakeEndpoint{block: true}, USBConfig{Timeout: time.Hour})
	rec := newStatusRecorder(2)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, u.SubmitAsync(ctx, []byte{1}, rec.done))
	require.NoError(t, u.SubmitAsync(ctx, []byte{2}, rec.done))
	cancel()

	assert.Equal(t, unix.ENOENT, rec.next(t))
	assert.Equal(t, unix.ENOENT, rec.next(t))

	require.NoError(t, u.Close())
	assert.Equal(t, unix.ESHUTDOWN, u.SubmitAsync(context.Background(), []byte{3}, rec.done))
}
