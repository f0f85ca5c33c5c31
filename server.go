package sipcore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/zenghr0820/sipcore/dialog"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/processor"
	"github.com/zenghr0820/sipcore/sip"
	"github.com/zenghr0820/sipcore/transaction"
	"github.com/zenghr0820/sipcore/transport"
	"github.com/zenghr0820/sipcore/utils"
)

var ErrServerClosed = errors.New("sip server closed")

var srvLog = logger.Component("sip_server")

type server struct {
	opts   Options
	sentBy string

	tp transport.Layer
	tx transaction.Layer
	tu dialog.Layer

	close chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func newServer(opts ...Option) (*server, error) {
	s := &server{
		opts:  newOptions(opts...),
		close: make(chan struct{}),
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Init()
	}

	tpInbox := make(chan sip.TransportCommand, s.opts.MailboxSize)
	txInbox := make(chan sip.TxCommand, s.opts.MailboxSize)
	tuInbox := make(chan sip.TUEvent, s.opts.MailboxSize)

	// 传输层
	tpOpts := []transport.Option{
		transport.LocalAddr(s.opts.Host),
		transport.Metrics(s.opts.Metrics),
		transport.OnOverload(s.overloaded),
	}
	if s.opts.DNS != "" {
		tpOpts = append(tpOpts, transport.DNSServer(s.opts.DNS))
	}
	s.tp = transport.NewLayer(tpInbox, txInbox, tpOpts...)
	if err := s.tp.Listen(s.opts.ListenAddr); err != nil {
		s.tp.Close()
		return nil, errors.Wrapf(err, "listen %s", s.opts.ListenAddr)
	}
	s.sentBy = s.tp.Host()
	if addr, ok := s.tp.LocalAddr().(*net.UDPAddr); ok {
		s.sentBy = net.JoinHostPort(s.tp.Host(), strconv.Itoa(addr.Port))
	}

	// 处理器
	table, err := s.processors()
	if err != nil {
		s.tp.Close()
		return nil, err
	}

	// 对话层
	s.tu = dialog.NewLayer(tuInbox, txInbox,
		dialog.Processors(table),
		dialog.SentBy(s.sentBy),
		dialog.Timers(s.opts.Timings),
		dialog.AutoAck(s.opts.AutoAck),
		dialog.Recorder(s.opts.Recorder),
		dialog.Metrics(s.opts.Metrics),
		dialog.Sweep(sweepInterval(s.opts.Timings), s.opts.Timings.M()),
	)

	// 事务层
	s.tx = transaction.NewLayer(txInbox, tpInbox, tuInbox,
		transaction.Timers(s.opts.Timings),
		transaction.Recorder(s.opts.Recorder),
		transaction.Metrics(s.opts.Metrics),
		transaction.Dialogs(s.tu),
	)

	s.wg.Add(1)
	go s.watch()

	srvLog.Infof("listening on %s, sent-by %s", s.tp.LocalAddr(), s.sentBy)
	return s, nil
}

// processors registers the custom processors first; the built-in ones only
// take the methods still free.
func (s *server) processors() (*processor.Table, error) {
	table, err := processor.NewTable(s.opts.Processors...)
	if err != nil {
		return nil, err
	}
	taken := func(methods ...sip.RequestMethod) bool {
		return lo.ContainsBy(methods, func(m sip.RequestMethod) bool {
			return lo.Contains(table.AllowedMethods(), m)
		})
	}

	if !taken(sip.REGISTER) {
		registrar := processor.NewRegistrar(s.opts.Store,
			processor.MinExpires(s.opts.MinExpires),
			processor.MaxExpires(s.opts.MaxExpires),
		)
		if err := table.Register(registrar); err != nil {
			return nil, err
		}
	}
	if !taken(sip.OPTIONS) {
		capabilities := processor.NewCapabilities(func() []sip.RequestMethod {
			return s.tu.AllowedMethods()
		})
		if err := table.Register(capabilities); err != nil {
			return nil, err
		}
	}

	proxy := processor.NewProxy(s.opts.Store, s.sentBy, processor.Upstream(s.opts.Upstream))
	free := lo.Filter(proxy.Methods(), func(m sip.RequestMethod, _ int) bool {
		return !taken(m)
	})
	if len(free) > 0 {
		proxy = processor.NewProxy(s.opts.Store, s.sentBy,
			processor.Upstream(s.opts.Upstream),
			processor.ProxyMethods(free...),
		)
		if err := table.Register(proxy); err != nil {
			return nil, err
		}
	}

	srvLog.Debugf("processors %v serve %v", table.Kinds(), table.AllowedMethods())
	return table, nil
}

// overloaded answers a request the transaction layer had no room for. It runs
// on the read goroutine of the transport.
func (s *server) overloaded(msg sip.TransportMsg) {
	req, ok := msg.Message.(*sip.Request)
	if !ok || req.IsAck() {
		return
	}
	res := req.CreateResponse(sip.StatusServiceUnavailable)
	res.SetHeader("Retry-After", "5")
	if err := s.tp.Send(res, ""); err != nil {
		srvLog.Warnf("send 503 for %s failed: %s", req.Short(), err)
	}
}

func (s *server) watch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.close:
			return
		case err := <-s.tp.Errors():
			srvLog.Errorf("received SIP transport error: %s", err)
		}
	}
}

func (s *server) Options() Options {
	return s.opts
}

func (s *server) LocalAddr() net.Addr {
	return s.tp.LocalAddr()
}

func (s *server) SentBy() string {
	return s.sentBy
}

func (s *server) Dialogs() dialog.Layer {
	return s.tu
}

func (s *server) Events() <-chan dialog.Event {
	return s.tu.Events()
}

// CreateRequest builds an out of dialog request with a fresh Call-ID and
// From tag.
func (s *server) CreateRequest(method sip.RequestMethod, recipient, from, to string) *sip.Request {
	hdrs := []sip.Header{
		{Name: "Via", Value: s.via()},
		{Name: "Max-Forwards", Value: strconv.Itoa(processor.DefaultMaxForwards)},
		{Name: "From", Value: fmt.Sprintf("<%s>;tag=%s", from, utils.RandString(10, true))},
		{Name: "To", Value: fmt.Sprintf("<%s>", to)},
		{Name: "Call-ID", Value: sip.GenerateCallID(s.tp.Host())},
		{Name: "CSeq", Value: fmt.Sprintf("1 %s", method)},
		{Name: "Contact", Value: fmt.Sprintf("<sip:%s>", s.sentBy)},
		{Name: "User-Agent", Value: s.opts.UserAgent},
	}
	return sip.NewRequest(method, recipient, hdrs, "")
}

func (s *server) via() string {
	return fmt.Sprintf("%s/%s %s;branch=%s;rport", sip.SipVersion, sip.DefaultProtocol, s.sentBy, sip.GenerateBranch())
}

// 发送请求
func (s *server) Request(ctx context.Context, req *sip.Request, peer string) (<-chan dialog.Reply, error) {
	select {
	case <-s.close:
		return nil, ErrServerClosed
	default:
	}

	s.autoFill(req)
	return s.tu.Request(ctx, req, peer)
}

func (s *server) Invite(ctx context.Context, req *sip.Request, peer string) (<-chan dialog.Reply, error) {
	select {
	case <-s.close:
		return nil, ErrServerClosed
	default:
	}

	s.autoFill(req)
	return s.tu.Invite(ctx, req, peer)
}

// autoFill adds the headers a caller may leave out.
func (s *server) autoFill(req *sip.Request) {
	if _, ok := req.GetHeader("Via"); !ok {
		req.PrependHeader("Via", s.via())
	}
	if _, ok := req.GetHeader("Max-Forwards"); !ok {
		req.SetHeader("Max-Forwards", strconv.Itoa(processor.DefaultMaxForwards))
	}
	if _, ok := req.GetHeader("User-Agent"); !ok && s.opts.UserAgent != "" {
		req.SetHeader("User-Agent", s.opts.UserAgent)
	}
	// from tag
	if from, ok := req.GetHeader("From"); ok && req.FromTag() == "" {
		req.SetHeader("From", sip.SetHeaderParam(from, "tag", utils.RandString(10, true)))
	}
}

func (s *server) Run() error {
	<-s.close
	return ErrServerClosed
}

// Close stops the layers from the top down: the TU first so nothing new
// reaches the transaction layer, the transport last.
func (s *server) Close() error {
	s.once.Do(func() {
		s.tu.Close()
		<-s.tu.Done()
		s.tx.Close()
		<-s.tx.Done()
		s.tp.Close()
		<-s.tp.Done()

		close(s.close)
		s.wg.Wait()
		srvLog.Infof("sip server closed")
	})

	return nil
}

func (s *server) String() string {
	return fmt.Sprintf("sipcore<%s>", s.sentBy)
}
