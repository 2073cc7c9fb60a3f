// Package cpustat reads per-core cumulative CPU times through gopsutil.
package cpustat

import (
	"context"
	"strconv"
	"strings"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"codeberg.org/mutker/frontpanelctl/internal/panel"
	"github.com/shirou/gopsutil/v3/cpu"
)

const ErrReadTimes = errors.ErrorCode("cpustat_read_failed")

func init() {
	errors.RegisterMessage(ErrReadTimes, "Failed to read CPU times")
}

type timesFunc func(ctx context.Context, perCPU bool) ([]cpu.TimesStat, error)

// Source implements panel.CPUSource for the local host.
type Source struct {
	times timesFunc
}

func New() *Source {
	return &Source{times: cpu.TimesWithContext}
}

// Times returns idle and wall time for every online core, in microseconds.
func (s *Source) Times(ctx context.Context) ([]panel.CoreTimes, error) {
	stats, err := s.times(ctx, true)
	if err != nil {
		return nil, errors.New().Wrap(ErrReadTimes, err)
	}

	result := make([]panel.CoreTimes, 0, len(stats))
	for _, st := range stats {
		core, ok := coreIndex(st.CPU)
		if !ok {
			continue
		}
		result = append(result, convert(core, st))
	}

	return result, nil
}

func convert(core int, st cpu.TimesStat) panel.CoreTimes {
	idle := st.Idle + st.Iowait
	wall := st.User + st.Nice + st.System + idle + st.Irq + st.Softirq + st.Steal

	return panel.CoreTimes{
		Core: core,
		Idle: micros(idle),
		Wall: micros(wall),
	}
}

func micros(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(seconds*1e6 + 0.5)
}

// coreIndex parses labels of the form "cpuN".
func coreIndex(label string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(label, "cpu"))
	if err != nil || n < 0 || !strings.HasPrefix(label, "cpu") {
		return 0, false
	}
	return n, true
}
