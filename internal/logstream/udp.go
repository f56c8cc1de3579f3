package logstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

const maxDatagram = 64 * 1024

// UDPSource receives uWSGI "socket:" logger datagrams.
type UDPSource struct {
	conn net.PacketConn
}

// ListenUDP binds addr right away so the bound port is known before Run.
func ListenUDP(addr string) (*UDPSource, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return &UDPSource{conn: conn}, nil
}

func (s *UDPSource) Addr() string   { return s.conn.LocalAddr().String() }
func (s *UDPSource) Target() string { return "socket:" + s.Addr() }

func (s *UDPSource) Run(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read log datagram: %w", err)
		}
		if n == 0 {
			continue
		}
		h(splitLines(string(buf[:n])))
	}
}

// Close releases the socket when Run was never called.
func (s *UDPSource) Close() error { return s.conn.Close() }
