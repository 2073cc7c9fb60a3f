package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"golang.org/x/sys/unix"
)

const (
	pidFile = "frontpanelctl.pid"
)

// Path returns the location of the PID file.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to the PID file, refusing when another
// live process owns it.
func Write() error {
	return writeAt(Path())
}

func writeAt(path string) error {
	errFactory := errors.New()

	if bytes, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		// signal 0 only checks for existence; EPERM still means alive
		if err := unix.Kill(pid, 0); err == nil || err == unix.EPERM {
			return errFactory.WithData(errors.ErrAlreadyRunning, pid)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove() error {
	return removeAt(Path())
}

func removeAt(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
