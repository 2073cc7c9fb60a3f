package panel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"codeberg.org/mutker/frontpanelctl/internal/metrics"
)

type samplerState int32

const (
	samplerRunning samplerState = iota
	samplerStopped
)

func (s samplerState) String() string {
	if s == samplerRunning {
		return "running"
	}
	return "stopped"
}

// sampler periodically turns CPU counters into a payload and writes it when
// it changed. It starts Running and, once Stopped, never runs again.
type sampler struct {
	dev      *Device
	cpus     CPUSource
	interval time.Duration

	state    atomic.Int32
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func newSampler(d *Device, cpus CPUSource, interval time.Duration) *sampler {
	return &sampler{
		dev:      d,
		cpus:     cpus,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *sampler) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.state.Store(int32(samplerRunning))

	go s.run(ctx)
}

func (s *sampler) run(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(samplerStopped))

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.cycle(ctx)
			timer.Reset(s.interval)
		}
	}
}

// Stop cancels future cycles and waits for a running one to finish.
func (s *sampler) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}

func (s *sampler) State() samplerState {
	return samplerState(s.state.Load())
}

func (s *sampler) cycle(ctx context.Context) {
	d := s.dev

	times, err := s.cpus.Times(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn().Err(err).Msg("Failed to read CPU counters")
		}
		return
	}

	frame, updated := d.updatePayload(times)
	if !updated {
		return
	}

	n, err := d.Write(frame)

	snapshot := &metrics.FrameSnapshot{
		Timestamp: time.Now(),
		Payload:   frame,
		Bytes:     n,
		InFlight:  d.InFlight(),
	}

	if err != nil {
		snapshot.Result = string(errors.CodeOf(err))
		// a full pool only means the device is slow; the next cycle retries
		if errors.HasCode(err, ErrWouldBlock) {
			d.log.Debug().Err(err).Msg("Write skipped")
		} else {
			d.log.Error().Err(err).Msg("Write failed")
		}
	}

	if err := d.metrics.Record(ctx, snapshot); err != nil {
		d.log.Warn().Err(err).Msg("Failed to record frame")
	}
}
