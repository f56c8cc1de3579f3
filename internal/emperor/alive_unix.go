//go:build unix

package emperor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// alive probes pid with signal 0. EPERM still means the process exists.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
