package transport

import (
	"net"
	"time"
)

const (
	MTU uint = 1500
	// IPv4 max size - IPv4 Header size - UDP Header size
	BufferSize uint16 = 65535 - 20 - 8
	// 读异常后的重试间隔
	NetErrRetryTime = 50 * time.Millisecond
	errorsSize      = 16
)

// Protocol owns the sockets of one network. Only UDP is implemented.
type Protocol interface {
	// 网络名, 大写 "UDP"
	Network() string
	// 监听, 每个地址一个读协程
	Listen(addr string) (Connection, error)
	// 从第一个监听的连接发送
	Send(addr *net.UDPAddr, data []byte) error
	LocalAddr() net.Addr
	Done() <-chan struct{}
	Close()
}
