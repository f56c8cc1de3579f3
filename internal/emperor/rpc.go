package emperor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"

	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/utils"
)

// uWSGI RPC packet modifiers.
const (
	rpcModifier1 byte = 173
	rpcModifier2 byte = 0
	rpcHeaderLen      = 4
)

// RPC result values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// RPCResult never carries transport errors as Go errors: a dead instance or
// a broken stream is reported in Message.
type RPCResult struct {
	Result  string `json:"result"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

var (
	notRunning  = RPCResult{Result: ResultFailure, Message: "Not running"}
	callFailure = RPCResult{Result: ResultFailure, Message: "Call failure"}
)

var errPacketTooLarge = errors.New("rpc packet exceeds 65535 bytes")

// CallRPC invokes a function registered in the running instance id. The
// first argument is the function name.
func (e *Emperor) CallRPC(ctx context.Context, id string, args ...string) RPCResult {
	stats, err := e.VassalStats(ctx, id)
	if err != nil {
		e.log.Warn("rpc: stats unavailable", logger.Component(component), logger.String("vassal", id), logger.Error(err))
		return notRunning
	}
	pid, ok := intField(stats, "pid")
	if !ok || pid <= 0 {
		return notRunning
	}
	addr, err := e.opts.Resolver.ListenAddr(pid)
	if err != nil {
		e.log.Debug("rpc: no listening socket", logger.String("vassal", id), logger.Int("pid", pid), logger.Error(err))
		return notRunning
	}

	data, err := e.call(ctx, addr, args)
	if err != nil {
		e.log.Warn("rpc call failed", logger.Component(component), logger.String("vassal", id), logger.Error(err))
		return callFailure
	}
	return RPCResult{Result: ResultSuccess, Data: string(data)}
}

func (e *Emperor) call(ctx context.Context, addr string, args []string) ([]byte, error) {
	d := net.Dialer{Timeout: e.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer utils.Close(conn)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := WriteRPCRequest(conn, args); err != nil {
		return nil, err
	}
	return ReadRPCReply(conn)
}

// WriteRPCRequest writes an RPC packet.
// Wire format: [modifier1:1][size:2 LE][modifier2:1] then per argument
// [len:2 LE][bytes].
func WriteRPCRequest(w io.Writer, args []string) error {
	size := 0
	for _, a := range args {
		if len(a) > math.MaxUint16 {
			return errPacketTooLarge
		}
		size += 2 + len(a)
	}
	if size > math.MaxUint16 {
		return errPacketTooLarge
	}

	buf := make([]byte, rpcHeaderLen, rpcHeaderLen+size)
	buf[0] = rpcModifier1
	binary.LittleEndian.PutUint16(buf[1:3], uint16(size))
	buf[3] = rpcModifier2
	for _, a := range args {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(a)))
		buf = append(buf, a...)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write rpc request: %w", err)
	}
	return nil
}

// ReadRPCReply reads the header and payload of an RPC reply.
func ReadRPCReply(r io.Reader) ([]byte, error) {
	header := make([]byte, rpcHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read rpc header: %w", err)
	}
	size := binary.LittleEndian.Uint16(header[1:3])
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read rpc payload: %w", err)
	}
	return data, nil
}
