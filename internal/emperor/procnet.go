package emperor

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// AddrResolver finds the address a supervised process listens on.
type AddrResolver interface {
	ListenAddr(pid int) (string, error)
}

// ProcResolver resolves listening sockets through procfs.
type ProcResolver struct {
	Root string // usually /proc
}

// tcpListen is the st column value of a listening socket.
const tcpListen = "0A"

type procSocket struct {
	addr  string
	inode string
}

// parseProcNet extracts listening sockets from /proc/<pid>/net/tcp{,6}.
func parseProcNet(r io.Reader) ([]procSocket, error) {
	var out []procSocket
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 10 || fields[3] != tcpListen {
			continue
		}
		addr, err := decodeProcAddr(fields[1])
		if err != nil {
			return nil, err
		}
		out = append(out, procSocket{addr: addr, inode: fields[9]})
	}
	return out, sc.Err()
}

// decodeProcAddr turns "0100007F:1F90" into "127.0.0.1:8080". The address
// is stored as host-order 32-bit words; unspecified addresses map to loopback.
func decodeProcAddr(s string) (string, error) {
	hexIP, hexPort, ok := strings.Cut(s, ":")
	if !ok {
		return "", fmt.Errorf("malformed socket address %q", s)
	}
	raw, err := hex.DecodeString(hexIP)
	if err != nil || (len(raw) != net.IPv4len && len(raw) != net.IPv6len) {
		return "", fmt.Errorf("malformed socket ip %q", hexIP)
	}
	for i := 0; i < len(raw); i += 4 {
		raw[i], raw[i+1], raw[i+2], raw[i+3] = raw[i+3], raw[i+2], raw[i+1], raw[i]
	}
	port, err := strconv.ParseUint(hexPort, 16, 16)
	if err != nil {
		return "", fmt.Errorf("malformed socket port %q", hexPort)
	}

	ip := net.IP(raw)
	if ip.IsUnspecified() {
		if len(raw) == net.IPv4len {
			ip = net.IPv4(127, 0, 0, 1)
		} else {
			ip = net.IPv6loopback
		}
	}
	return net.JoinHostPort(ip.String(), strconv.FormatUint(port, 10)), nil
}
