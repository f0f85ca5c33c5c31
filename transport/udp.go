package transport

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/sip"
)

/**
创建 UDP 协议：
	receive: 收到数据报时回调，在读协程中执行，不能阻塞
	receiveError: 读异常回调
*/
func CreateUdpProtocol(receive func(env sip.Envelope), receiveError func(err error)) Protocol {
	return &udpProtocol{
		receive:      receive,
		receiveError: receiveError,
		cancel:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

var errNotListening = errors.New("no listening connection")

// UDP protocol implementation
type udpProtocol struct {
	receive      func(env sip.Envelope)
	receiveError func(err error)

	mu          sync.RWMutex
	connections []Connection

	wg     sync.WaitGroup
	once   sync.Once
	cancel chan struct{}
	done   chan struct{}
}

func (udp *udpProtocol) Network() string {
	return sip.DefaultProtocol
}

func (udp *udpProtocol) Done() <-chan struct{} {
	return udp.done
}

// 监听
func (udp *udpProtocol) Listen(addr string) (Connection, error) {
	select {
	case <-udp.cancel:
		return nil, &ProtocolError{Err: net.ErrClosed, Op: "listen", Addr: addr}
	default:
	}

	localAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &ProtocolError{Err: err, Op: "resolve local address", Addr: addr}
	}
	udpConn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, &ProtocolError{Err: err, Op: "listen", Addr: localAddr.String()}
	}

	conn := newConnection(udpConn)
	logger.Infof("[udp_protocol] -> begin listening on %s %s", udp.Network(), conn.LocalAddr())

	udp.mu.Lock()
	udp.connections = append(udp.connections, conn)
	udp.mu.Unlock()

	udp.wg.Add(1)
	go udp.serve(conn)

	return conn, nil
}

// 读取数据报，直到连接关闭
func (udp *udpProtocol) serve(conn Connection) {
	defer udp.wg.Done()
	logger.Infof("[udp_protocol] -> begin read %s", conn)
	defer logger.Infof("[udp_protocol] -> stop read %s", conn)

	buf := make([]byte, BufferSize)
	for {
		num, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-udp.cancel:
				return
			default:
			}
			// if we get timeout error just go further and try read on the next iteration
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				time.Sleep(NetErrRetryTime)
				continue
			}
			udp.receiveError(&ConnectionError{
				Err:    err,
				Op:     "read",
				Net:    udp.Network(),
				Source: conn.LocalAddr().String(),
			})
			if errors.Is(err, net.ErrClosed) {
				return
			}
			time.Sleep(NetErrRetryTime)
			continue
		}

		data := buf[:num]
		// skip empty udp packets and keep-alives
		if len(bytes.TrimSpace(bytes.Trim(data, "\x00"))) == 0 {
			continue
		}

		udp.receive(sip.Envelope{Data: append([]byte(nil), data...), Peer: raddr})
	}
}

func (udp *udpProtocol) LocalAddr() net.Addr {
	udp.mu.RLock()
	defer udp.mu.RUnlock()
	if len(udp.connections) == 0 {
		return nil
	}
	return udp.connections[0].LocalAddr()
}

// 发送, 总是使用第一个监听的连接，保证本地端口不变
func (udp *udpProtocol) Send(raddr *net.UDPAddr, data []byte) error {
	udp.mu.RLock()
	var conn Connection
	if len(udp.connections) > 0 {
		conn = udp.connections[0]
	}
	udp.mu.RUnlock()

	if conn == nil {
		return &ProtocolError{Err: errNotListening, Op: "send", Addr: raddr.String()}
	}

	logger.Debugf("[udp_protocol] -> writing SIP message to %s %s", udp.Network(), raddr)
	if _, err := conn.WriteTo(data, raddr); err != nil {
		return &ConnectionError{
			Err:    err,
			Op:     "write",
			Net:    udp.Network(),
			Source: conn.LocalAddr().String(),
			Dest:   raddr.String(),
		}
	}

	return nil
}

func (udp *udpProtocol) Close() {
	udp.once.Do(func() {
		close(udp.cancel)

		udp.mu.Lock()
		for _, conn := range udp.connections {
			if err := conn.Close(); err != nil {
				logger.Errorf("[udp_protocol] -> close %s failed: %s", conn, err)
			}
		}
		udp.connections = nil
		udp.mu.Unlock()

		udp.wg.Wait()
		close(udp.done)
	})
}
