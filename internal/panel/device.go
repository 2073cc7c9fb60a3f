package panel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"codeberg.org/mutker/frontpanelctl/internal/logger"
	"codeberg.org/mutker/frontpanelctl/internal/metrics"
)

const (
	defaultInterval       = 250 * time.Millisecond
	defaultChannels       = 32
	defaultWritesInFlight = 8
	defaultMaxCores       = 16
	defaultDrainTimeout   = time.Second
)

type Config struct {
	// Interval between sampler cycles
	Interval time.Duration
	// Channels is the payload size, one byte per LED bar
	Channels int
	// WritesInFlight caps concurrent asynchronous writes
	WritesInFlight int
	// MaxCores caps per-core state; cores at or above it are ignored
	MaxCores int
	// DrainTimeout bounds how long suspend and reset wait for writes
	DrainTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:       defaultInterval,
		Channels:       defaultChannels,
		WritesInFlight: defaultWritesInFlight,
		MaxCores:       defaultMaxCores,
		DrainTimeout:   defaultDrainTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.Interval <= 0:
		return errFactory.WithData(ErrInvalidConfig, "interval must be positive")
	case c.Channels <= 0:
		return errFactory.WithData(ErrInvalidConfig, "channels must be positive")
	case c.WritesInFlight <= 0:
		return errFactory.WithData(ErrInvalidConfig, "writes in flight must be positive")
	case c.MaxCores <= 0:
		return errFactory.WithData(ErrInvalidConfig, "max cores must be positive")
	case c.DrainTimeout <= 0:
		return errFactory.WithData(ErrInvalidConfig, "drain timeout must be positive")
	}

	return nil
}

type Options struct {
	Config    Config
	Transport Transport
	CPUs      CPUSource
	Logger    logger.Logger
	Metrics   metrics.Collector
	// OnRelease runs once, after the last reference is dropped and the
	// transport has been closed.
	OnRelease func()
}

type coreState struct {
	prevIdle uint64
	prevWall uint64
}

// Device is one attached front panel.
type Device struct {
	cfg       Config
	log       logger.Logger
	transport Transport
	metrics   metrics.Collector
	onRelease func()

	refs        atomic.Int32
	releaseOnce sync.Once
	released    chan struct{}

	slots  *slotPool
	latch  errorLatch
	anchor *anchor

	// ioMu serialises the disconnected flag with submission and guards
	// payload and cores.
	ioMu         sync.Mutex
	disconnected bool
	payload      []byte
	cores        []coreState

	gone       atomic.Bool
	lostOnce   sync.Once
	lost       chan struct{}
	resetting  atomic.Bool
	detachOnce sync.Once
	sampler    *sampler
}

// Attach sets up a device and starts its sampler. The returned device holds
// one reference, dropped by Detach.
func Attach(ctx context.Context, opts Options) (*Device, error) {
	errFactory := errors.New()

	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Transport == nil {
		return nil, errFactory.WithData(ErrInvalidConfig, "transport is required")
	}
	if opts.CPUs == nil {
		return nil, errFactory.WithData(ErrInvalidConfig, "cpu source is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewNoop()
	}

	d := &Device{
		cfg:       opts.Config,
		log:       log,
		transport: opts.Transport,
		metrics:   collector,
		onRelease: opts.OnRelease,
		released:  make(chan struct{}),
		lost:      make(chan struct{}),
		slots:     newSlotPool(opts.Config.WritesInFlight),
		anchor:    newAnchor(),
		payload:   make([]byte, opts.Config.Channels),
		cores:     make([]coreState, opts.Config.MaxCores),
	}
	d.refs.Store(1)

	d.sampler = newSampler(d, opts.CPUs, opts.Config.Interval)
	d.sampler.start(ctx)

	log.Info().
		Int("channels", d.cfg.Channels).
		Int("writes_in_flight", d.cfg.WritesInFlight).
		Dur("interval", d.cfg.Interval).
		Msg("Front panel attached")

	return d, nil
}

// Acquire takes an additional reference on the device.
func (d *Device) Acquire() {
	d.refs.Add(1)
}

// Release drops a reference. The last one closes the transport and runs
// the release callback.
func (d *Device) Release() {
	n := d.refs.Add(-1)
	if n < 0 {
		panic("panel: device released more often than acquired")
	}
	if n == 0 {
		d.releaseOnce.Do(d.destroy)
	}
}

// Released is closed once the device resources have been freed.
func (d *Device) Released() <-chan struct{} {
	return d.released
}

func (d *Device) destroy() {
	if err := d.transport.Close(); err != nil {
		d.log.Warn().Err(err).Msg("Failed to close transport")
	}
	if d.onRelease != nil {
		d.onRelease()
	}
	d.log.Debug().Msg("Front panel released")
	close(d.released)
}

// Lost is closed when the transport reports that the device was removed.
// The owner is expected to call Detach.
func (d *Device) Lost() <-chan struct{} {
	return d.lost
}

func (d *Device) markLost() {
	d.gone.Store(true)
	d.lostOnce.Do(func() {
		d.log.Warn().Msg("Front panel removed")
		close(d.lost)
	})
}

// InFlight returns the number of writes currently submitted.
func (d *Device) InFlight() int {
	return d.slots.InUse()
}

// updatePayload folds a counter snapshot into the per-core state and the
// payload, returning a copy of the payload if any channel changed.
func (d *Device) updatePayload(times []CoreTimes) ([]byte, bool) {
	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	updated := false
	for _, t := range times {
		if t.Core < 0 || t.Core >= len(d.cores) {
			continue
		}

		load, ok := d.cores[t.Core].update(t.Idle, t.Wall)
		if !ok || t.Core >= len(d.payload) {
			continue
		}

		if d.payload[t.Core] != load {
			d.payload[t.Core] = load
			updated = true
		}
	}

	if !updated {
		return nil, false
	}

	frame := make([]byte, len(d.payload))
	copy(frame, d.payload)

	return frame, true
}

// update records new cumulative counters and returns the load over the
// elapsed window scaled to 0..255. It reports false when no wall time passed.
func (c *coreState) update(idle, wall uint64) (uint8, bool) {
	diffIdle := int64(idle - c.prevIdle)
	diffWall := int64(wall - c.prevWall)

	c.prevIdle = idle
	c.prevWall = wall

	if diffIdle < 0 {
		diffIdle = 0
	}
	// idle can briefly run ahead of wall when the counters race
	if diffIdle > diffWall {
		diffWall = diffIdle
	}
	if diffWall <= 0 {
		return 0, false
	}

	return uint8(255 * (diffWall - diffIdle) / diffWall), true
}
