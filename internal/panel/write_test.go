package panel

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testConfig() Config {
	cfg := DefaultConfig()
	// keep the sampler out of the way; tests drive cycles directly
	cfg.Interval = time.Hour
	return cfg
}

func newTestDevice(t *testing.T, cfg Config) (*Device, *fakeTransport, *fakeCPUs) {
	t.Helper()

	transport := &fakeTransport{}
	cpus := &fakeCPUs{}

	d, err := Attach(context.Background(), Options{
		Config:    cfg,
		Transport: transport,
		CPUs:      cpus,
	})
	require.NoError(t, err)
	t.Cleanup(d.Detach)

	return d, transport, cpus
}

func TestAttachValidatesOptions(t *testing.T) {
	_, err := Attach(context.Background(), Options{Config: testConfig(), CPUs: &fakeCPUs{}})
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))

	cfg := testConfig()
	cfg.WritesInFlight = 0
	_, err = Attach(context.Background(), Options{Config: cfg, Transport: &fakeTransport{}, CPUs: &fakeCPUs{}})
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))
}

func TestWriteWouldBlockWhenPoolExhausted(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())
	payload := []byte{1, 2, 3}

	for i := 0; i < d.cfg.WritesInFlight; i++ {
		n, err := d.Write(payload)
		require.NoError(t, err)
		assert.Equal(t, len(payload), n)
	}
	assert.Equal(t, d.cfg.WritesInFlight, d.InFlight())

	_, err := d.Write(payload)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrWouldBlock))
	assert.Equal(t, d.cfg.WritesInFlight, transport.writeCount(), "rejected write never reaches the transport")

	require.True(t, transport.completeNext(nil))
	_, err = d.Write(payload)
	assert.NoError(t, err, "a completed write frees its slot")
}

func TestWriteTruncatesToChannelCount(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = 4
	d, transport, _ := newTestDevice(t, cfg)

	n, err := d.Write([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{1, 2, 3, 4}, transport.lastWrite())
}

func TestWriteEmptyPayload(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())

	n, err := d.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, transport.writeCount())
	assert.Zero(t, d.InFlight())
}

func TestWriteAfterDetachIsDeviceGone(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())

	_, err := d.Write([]byte{1})
	require.NoError(t, err)
	// leave a real fault latched so only the disconnect can explain the result
	require.True(t, transport.completeNext(unix.EIO))

	d.Detach()

	for _, payload := range [][]byte{nil, {}, {1}, make([]byte, 64)} {
		n, err := d.Write(payload)
		assert.Zero(t, n)
		assert.True(t, errors.HasCode(err, ErrDeviceGone), "payload of %d bytes", len(payload))
	}
	assert.Equal(t, 1, transport.writeCount())
}

func TestErrorLatchReportsOnce(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())

	_, err := d.Write([]byte{1})
	require.NoError(t, err)
	require.True(t, transport.completeNext(unix.ETIMEDOUT))

	_, err = d.Write([]byte{2})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrIOFailure), "non-stall faults are reported as I/O failures")
	assert.Zero(t, d.InFlight(), "failed write releases its slot")

	_, err = d.Write([]byte{3})
	assert.NoError(t, err)
}

func TestLatestErrorWins(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())

	for i := 0; i < 2; i++ {
		_, err := d.Write([]byte{1})
		require.NoError(t, err)
	}
	require.True(t, transport.completeNext(unix.EIO))
	require.True(t, transport.completeNext(unix.EPIPE))

	_, err := d.Write([]byte{1})
	assert.True(t, errors.HasCode(err, ErrPipeStalled))
	_, err = d.Write([]byte{1})
	assert.NoError(t, err)
}

func TestBenignCompletionIsNotReported(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())

	for _, status := range []error{unix.ENOENT, unix.ECONNRESET, unix.ESHUTDOWN} {
		_, err := d.Write([]byte{1})
		require.NoError(t, err)
		require.True(t, transport.completeNext(status))

		_, err = d.Write([]byte{1})
		require.NoError(t, err, "status %v", status)
		require.True(t, transport.completeNext(nil))
	}
}

func TestDeviceRemovalIsSurfaced(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())

	_, err := d.Write([]byte{1})
	require.NoError(t, err)
	require.True(t, transport.completeNext(unix.ENODEV))

	select {
	case <-d.Lost():
	default:
		t.Fatal("removal not signalled")
	}

	for i := 0; i < 3; i++ {
		n, err := d.Write([]byte{1})
		assert.Zero(t, n)
		assert.True(t, errors.HasCode(err, ErrDeviceGone))
	}
	assert.Equal(t, 1, transport.writeCount(), "nothing is submitted after removal")

	d.Detach()
	assert.Equal(t, 1, transport.closeCount())
}

func TestSubmitToRemovedDeviceSignalsLoss(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())
	transport.submitErr = unix.ENODEV

	_, err := d.Write([]byte{1})
	assert.True(t, errors.HasCode(err, ErrDeviceGone))

	select {
	case <-d.Lost():
	default:
		t.Fatal("removal not signalled")
	}
}

func TestPipeStallAcrossReset(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())

	_, err := d.Write([]byte{1})
	require.NoError(t, err)
	require.True(t, transport.completeNext(unix.EPIPE))

	require.NoError(t, d.PreReset())
	require.NoError(t, d.PostReset())

	_, err = d.Write([]byte{1})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrPipeStalled))

	for i := 0; i < 3; i++ {
		_, err = d.Write([]byte{1})
		assert.NoError(t, err)
	}
}

func TestPostResetWithoutPreReset(t *testing.T) {
	d, _, _ := newTestDevice(t, testConfig())

	err := d.PostReset()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrInvalidOperation))

	_, err = d.Write([]byte{1})
	assert.NoError(t, err, "a rejected post-reset latches nothing")
}

func TestWriteBlocksDuringReset(t *testing.T) {
	d, _, _ := newTestDevice(t, testConfig())

	require.NoError(t, d.PreReset())

	written := make(chan error, 1)
	go func() {
		_, err := d.Write([]byte{1})
		written <- err
	}()

	select {
	case <-written:
		t.Fatal("write went through while the device was resetting")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, d.PostReset())
	assert.NoError(t, <-written, "the write checked the latch before the reset finished")

	_, err := d.Write([]byte{1})
	assert.True(t, errors.HasCode(err, ErrPipeStalled))
}

func TestSubmitFailureReleasesEverything(t *testing.T) {
	tests := []struct {
		name   string
		status error
		code   errors.ErrorCode
	}{
		{"out of memory", unix.ENOMEM, ErrAllocationFailure},
		{"no device", unix.ENODEV, ErrDeviceGone},
		{"stall", unix.EPIPE, ErrPipeStalled},
		{"other", unix.EINVAL, ErrIOFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, transport, _ := newTestDevice(t, testConfig())
			transport.submitErr = tt.status

			_, err := d.Write([]byte{1})
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code))
			assert.Zero(t, d.InFlight())
			assert.Zero(t, d.anchor.len())
			assert.Equal(t, int32(1), d.refs.Load())
		})
	}
}

func TestDetachCancelsInFlight(t *testing.T) {
	d, transport, _ := newTestDevice(t, testConfig())

	for i := 0; i < 3; i++ {
		_, err := d.Write([]byte{byte(i)})
		require.NoError(t, err)
	}

	d.Detach()

	assert.Zero(t, d.InFlight())
	assert.Zero(t, d.anchor.len())
	assert.Equal(t, 1, transport.closeCount())
	assert.Eventually(t, func() bool { return transport.cancelCount() == 3 }, time.Second, 5*time.Millisecond)

	select {
	case <-d.Released():
	default:
		t.Fatal("device not released after detach")
	}

	d.Detach()
	assert.Equal(t, 1, transport.closeCount(), "second detach is a no-op")
}

func TestDetachRacingCompletions(t *testing.T) {
	for round := 0; round < 20; round++ {
		d, transport, _ := newTestDevice(t, testConfig())

		for i := 0; i < d.cfg.WritesInFlight; i++ {
			_, err := d.Write([]byte{1})
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for transport.completeNext(nil) {
			}
		}()

		d.Detach()
		wg.Wait()

		assert.Zero(t, d.InFlight(), "round %d", round)
		assert.Equal(t, int32(0), d.refs.Load())
		assert.Equal(t, 1, transport.closeCount())
	}
}

func TestReleaseCallbackRunsOnce(t *testing.T) {
	released := 0
	d, err := Attach(context.Background(), Options{
		Config:    testConfig(),
		Transport: &fakeTransport{},
		CPUs:      &fakeCPUs{},
		OnRelease: func() { released++ },
	})
	require.NoError(t, err)

	d.Acquire()
	d.Detach()
	assert.Zero(t, released, "an extra reference keeps the device alive")

	d.Release()
	assert.Equal(t, 1, released)
	assert.Panics(t, d.Release)
}
