package job

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Prober answers whether a process id still exists.
type Prober interface {
	Alive(pid int) bool
}

// ProcessProber probes with signal 0. A process owned by another user still
// counts as alive.
type ProcessProber struct{}

// Alive implements Prober.
func (ProcessProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func terminate(pid int) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(pid, unix.SIGTERM)
}
