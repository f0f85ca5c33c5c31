package transport

import (
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

// 定义传输层的错误

var (
	// ErrLayerClosed is returned by every operation after Close.
	ErrLayerClosed = errors.New("transport layer closed")
	// ErrMailboxFull is reported when the transaction layer cannot take
	// another message; the datagram is dropped.
	ErrMailboxFull = errors.New("transaction mailbox full")
)

var (
	_ Error = (*ConnectionError)(nil)
	_ Error = (*ProtocolError)(nil)
	_ Error = (*ResolveError)(nil)
)

// Transport error
type Error interface {
	net.Error
	// Network indicates network level errors
	Network() bool
}

func isNetwork(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isTemporary(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Temporary()
	}
	return false
}

// ConnectionError is a failed read or write on a listening socket.
// 连接级别错误
type ConnectionError struct {
	Err    error
	Op     string
	Net    string
	Source string
	Dest   string
}

func (err *ConnectionError) Unwrap() error   { return err.Err }
func (err *ConnectionError) Network() bool   { return isNetwork(err.Err) }
func (err *ConnectionError) Timeout() bool   { return isTimeout(err.Err) }
func (err *ConnectionError) Temporary() bool { return isTemporary(err.Err) }
func (err *ConnectionError) Error() string {
	if err == nil {
		return "<nil>"
	}
	path := err.Source
	if err.Dest != "" {
		path += " -> " + err.Dest
	}
	return fmt.Sprintf("transport.ConnectionError<%s %s> %s failed: %s", err.Net, path, err.Op, err.Err)
}

// ProtocolError is a failure of the protocol itself: binding an address or
// sending without a socket.
// 网络协议错误
type ProtocolError struct {
	Err  error
	Op   string
	Addr string
}

func (err *ProtocolError) Unwrap() error   { return err.Err }
func (err *ProtocolError) Network() bool   { return isNetwork(err.Err) }
func (err *ProtocolError) Timeout() bool   { return isTimeout(err.Err) }
func (err *ProtocolError) Temporary() bool { return isTemporary(err.Err) }
func (err *ProtocolError) Error() string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("transport.ProtocolError<%s> %s failed: %s", err.Addr, err.Op, err.Err)
}

// 地址解析错误
type ResolveError struct {
	Err  error
	Host string
}

func (err *ResolveError) Unwrap() error   { return err.Err }
func (err *ResolveError) Network() bool   { return true }
func (err *ResolveError) Timeout() bool   { return isTimeout(err.Err) }
func (err *ResolveError) Temporary() bool { return isTemporary(err.Err) }
func (err *ResolveError) Error() string {
	if err == nil {
		return "<nil>"
	}

	return fmt.Sprintf("transport.ResolveError<%s>: %s", err.Host, err.Err)
}
