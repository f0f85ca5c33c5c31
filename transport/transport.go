package transport

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/sip"
)

// 定义传输层接口 TransportLayer
type Layer interface {
	// 监听 UDP 地址, ":0" 选择随机端口
	Listen(addr string) error
	// LocalAddr is the address of the first listening socket, nil before
	// Listen.
	LocalAddr() net.Addr
	// Host is the address written into Via sent-by.
	Host() string
	// Send renders msg and writes it to peer. An empty peer is derived from
	// the message.
	Send(msg sip.Message, peer string) error
	// Mailbox accepts sip.TransportCommand.
	Mailbox() chan<- sip.TransportCommand
	// 返回异常
	Errors() <-chan error
	// 关闭
	Close()
	// 确认关闭是否完成
	Done() <-chan struct{}
}

// 实例化传输层
type layer struct {
	opts Options

	udp   Protocol
	inbox chan sip.TransportCommand
	tx    chan<- sip.TxCommand
	errs  chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	done   chan struct{}
}

// 创建传输层
// - inbox - 传输层邮箱
// - tx - 事务层邮箱, 收到的消息以 sip.TxIncoming 投递
// - opts - 传输层配置
func NewLayer(inbox chan sip.TransportCommand, tx chan<- sip.TxCommand, opts ...Option) Layer {
	ctx, cancel := context.WithCancel(context.Background())
	tpl := &layer{
		opts:   newOptions(opts...),
		inbox:  inbox,
		tx:     tx,
		errs:   make(chan error, errorsSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	tpl.udp = CreateUdpProtocol(tpl.receive, tpl.reportError)

	tpl.wg.Add(1)
	go tpl.listenMessages()

	return tpl
}

func (tpl *layer) Mailbox() chan<- sip.TransportCommand {
	return tpl.inbox
}

func (tpl *layer) Errors() <-chan error {
	return tpl.errs
}

func (tpl *layer) Done() <-chan struct{} {
	return tpl.done
}

func (tpl *layer) Host() string {
	return tpl.opts.localIP.String()
}

func (tpl *layer) LocalAddr() net.Addr {
	return tpl.udp.LocalAddr()
}

// 监听
func (tpl *layer) Listen(addr string) error {
	select {
	case <-tpl.ctx.Done():
		return ErrLayerClosed
	default:
	}

	_, err := tpl.udp.Listen(addr)
	return err
}

// 发送
func (tpl *layer) Send(msg sip.Message, peer string) error {
	select {
	case <-tpl.ctx.Done():
		return ErrLayerClosed
	default:
	}

	if peer == "" {
		var err error
		if peer, err = Destination(msg); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(tpl.ctx, tpl.opts.sendTimeout)
	defer cancel()
	raddr, err := tpl.opts.resolver.Resolve(ctx, peer)
	if err != nil {
		return err
	}

	data := []byte(msg.String())
	if len(data) > int(MTU)-200 {
		logger.Warnf("[tpl_layer] -> %s is %d bytes, may be fragmented", msg.Short(), len(data))
	}
	logger.Debugf("[tpl_layer] -> sending SIP message to %s:\n%s", raddr, msg)

	return tpl.udp.Send(raddr, data)
}

func (tpl *layer) Close() {
	tpl.once.Do(func() {
		tpl.cancel()
		tpl.udp.Close()
		tpl.wg.Wait()
		logger.Info("[tpl_layer] -> transport layer closed")
		close(tpl.done)
	})
}

// 监听邮箱
func (tpl *layer) listenMessages() {
	defer tpl.wg.Done()

	logger.Info("[tpl_layer] -> begin listen transport commands")
	defer logger.Info("[tpl_layer] -> stop listen transport commands")

	for {
		select {
		case <-tpl.ctx.Done():
			return
		case cmd := <-tpl.inbox:
			switch c := cmd.(type) {
			case sip.TransportIncoming:
				tpl.receive(c.Envelope)
			case sip.TransportOutgoing:
				tpl.send(c.Message, c.Peer)
			}
		}
	}
}

func (tpl *layer) send(msg sip.Message, peer string) {
	err := tpl.Send(msg, peer)
	if err == nil {
		return
	}
	if errors.Is(err, ErrLayerClosed) {
		return
	}

	logger.Warnf("[tpl_layer] -> send %s to %s failed: %s", msg.Short(), peer, err)
	select {
	case tpl.tx <- sip.TxTransportError{Message: msg, Peer: peer, Reason: err}:
	default:
		tpl.opts.metrics.Dropped("transport_error")
		tpl.reportError(errors.Wrapf(ErrMailboxFull, "transport error for %s lost", msg.Short()))
	}
}

// 处理收到的数据报, 在读协程中执行
func (tpl *layer) receive(env sip.Envelope) {
	msg, err := sip.ParseEnvelope(env)
	if err != nil {
		logger.Warnf("[tpl_layer] -> drop datagram from %s: %s", env.Peer, err)
		tpl.opts.metrics.Dropped("parse_error")
		tpl.reportError(err)
		return
	}

	// RFC 3261 - 18.2.1.
	if req, ok := msg.Message.(*sip.Request); ok {
		markReceived(req, env.Peer)
	}

	select {
	case <-tpl.ctx.Done():
		return
	default:
	}

	select {
	case tpl.tx <- sip.TxIncoming{Msg: msg}:
		logger.Debugf("[tpl_layer] -> %s passed up", msg)
	default:
		logger.Warnf("[tpl_layer] -> %s: %s dropped", ErrMailboxFull, msg)
		tpl.opts.metrics.Dropped("mailbox_full")
		tpl.reportError(errors.Wrapf(ErrMailboxFull, "drop %s", msg))
		if tpl.opts.onOverload != nil {
			tpl.opts.onOverload(msg)
		}
	}
}

// reportError never blocks; errors nobody reads are lost.
func (tpl *layer) reportError(err error) {
	select {
	case tpl.errs <- err:
	default:
	}
}

// markReceived adds the received parameter when sent-by differs from the
// packet source.
func markReceived(req *sip.Request, src net.Addr) {
	udpAddr, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}
	via, ok := req.Via()
	if !ok {
		return
	}
	values := req.GetHeaders("Via")
	top := values[0]
	if via.Host != udpAddr.IP.String() {
		top = sip.SetHeaderParam(top, "received", udpAddr.IP.String())
	}
	if _, ok := sip.HeaderParam(values[0], "rport"); ok {
		top = sip.SetHeaderParam(top, "rport", strconv.Itoa(udpAddr.Port))
	}
	if top == values[0] {
		return
	}
	req.RemoveTopVia()
	req.PrependHeader("Via", top)
}

// Destination derives the peer of a message sent without one: the first
// Route or the Request-URI for requests, the top Via for responses
// (received and rport win over sent-by, RFC 3261 - 18.2.2).
func Destination(msg sip.Message) (string, error) {
	switch m := msg.(type) {
	case *sip.Request:
		target := m.Recipient()
		if route, ok := m.GetHeader("Route"); ok {
			target = route
		}
		uri, err := sip.ParseURI(target)
		if err != nil {
			return "", err
		}
		if uri.Port == 0 {
			return uri.Host, nil
		}
		return uri.HostPort(), nil
	case *sip.Response:
		values := m.GetHeaders("Via")
		if len(values) == 0 {
			return "", errors.Errorf("missing required 'Via' header in %s", m.Short())
		}
		via, err := sip.ParseVia(values[0])
		if err != nil {
			return "", err
		}
		host := via.Host
		if received, ok := sip.HeaderParam(values[0], "received"); ok && received != "" {
			host = received
		}
		port := via.Port
		if rport, ok := sip.HeaderParam(values[0], "rport"); ok && rport != "" {
			if p, err := strconv.Atoi(rport); err == nil {
				port = sip.Port(p)
			}
		}
		if port == 0 {
			port = sip.DefaultUdpPort
		}
		return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
	default:
		return "", errors.Errorf("unsupported message %v", msg)
	}
}
