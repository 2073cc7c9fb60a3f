package metrics

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *FrameSnapshot) error
	Close() error
}

// Repository defines the interface for frame history storage
type Repository interface {
	Record(snapshot *FrameSnapshot) error
	Close() error
}

// FrameSnapshot describes one sampler cycle that produced a new frame
type FrameSnapshot struct {
	Timestamp time.Time
	Payload   []byte
	// Bytes is the number of bytes the device accepted, zero on failure
	Bytes int
	// Result is the error code of a failed write, empty on success
	Result   string
	InFlight int
}
