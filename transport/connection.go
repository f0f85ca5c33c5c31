package transport

import (
	"fmt"
	"net"

	"go.uber.org/atomic"

	"github.com/zenghr0820/sipcore/logger"
)

// Connection is a listening datagram socket.
type Connection interface {
	LocalAddr() net.Addr
	ReadFrom(buf []byte) (num int, remoteAddr net.Addr, err error)
	WriteTo(buf []byte, remoteAddr net.Addr) (num int, err error)
	// Stats returns the datagrams read and written so far.
	Stats() (read, written uint64)
	String() string
	Close() error
}

type connection struct {
	conn    net.PacketConn
	read    *atomic.Uint64
	written *atomic.Uint64
}

func newConnection(conn net.PacketConn) Connection {
	return &connection{
		conn:    conn,
		read:    atomic.NewUint64(0),
		written: atomic.NewUint64(0),
	}
}

func (c *connection) String() string {
	return fmt.Sprintf("transport.Connection<%s:%s>", c.conn.LocalAddr().Network(), c.conn.LocalAddr())
}

func (c *connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *connection) Stats() (uint64, uint64) {
	return c.read.Load(), c.written.Load()
}

func (c *connection) ReadFrom(buf []byte) (int, net.Addr, error) {
	num, raddr, err := c.conn.ReadFrom(buf)
	if err == nil {
		c.read.Inc()
	}
	return num, raddr, err
}

func (c *connection) WriteTo(buf []byte, raddr net.Addr) (int, error) {
	num, err := c.conn.WriteTo(buf, raddr)
	if err == nil {
		c.written.Inc()
	}
	return num, err
}

func (c *connection) Close() error {
	read, written := c.Stats()
	if err := c.conn.Close(); err != nil {
		return err
	}
	logger.Debugf("[udp_protocol] -> %s closed after %d in / %d out", c, read, written)
	return nil
}
