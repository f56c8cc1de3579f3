//go:build linux

package emperor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ListenAddr returns the first listening TCP socket owned by pid.
func (p ProcResolver) ListenAddr(pid int) (string, error) {
	base := filepath.Join(p.Root, strconv.Itoa(pid))

	fds, err := os.ReadDir(filepath.Join(base, "fd"))
	if err != nil {
		return "", fmt.Errorf("list fds of %d: %w", pid, err)
	}
	inodes := make(map[string]bool, len(fds))
	for _, fd := range fds {
		target, err := os.Readlink(filepath.Join(base, "fd", fd.Name()))
		if err != nil {
			continue
		}
		if inode, ok := strings.CutPrefix(target, "socket:["); ok {
			inodes[strings.TrimSuffix(inode, "]")] = true
		}
	}

	for _, table := range []string{"tcp", "tcp6"} {
		f, err := os.Open(filepath.Join(base, "net", table))
		if err != nil {
			continue
		}
		socks, err := parseProcNet(f)
		_ = f.Close()
		if err != nil {
			return "", fmt.Errorf("parse %s of %d: %w", table, pid, err)
		}
		for _, s := range socks {
			if inodes[s.inode] {
				return s.addr, nil
			}
		}
	}
	return "", fmt.Errorf("process %d has no listening socket", pid)
}
