//go:build !linux

package emperor

import "fmt"

// ListenAddr needs procfs; other platforms must inject their own resolver.
func (p ProcResolver) ListenAddr(pid int) (string, error) {
	return "", fmt.Errorf("cannot resolve listening socket of %d without procfs", pid)
}
