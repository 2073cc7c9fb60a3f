package panel

import (
	"sync"

	"golang.org/x/sys/unix"
)

// errorLatch holds the most recent unreported transport status.
type errorLatch struct {
	mu     sync.Mutex
	status unix.Errno
}

// Set overwrites any unclaimed status.
func (l *errorLatch) Set(status unix.Errno) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()
}

// Take returns the stored status and clears it. Zero means none.
func (l *errorLatch) Take() unix.Errno {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := l.status
	l.status = 0

	return status
}
