package transaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/sip"
)

// 事务层定义与实现
type Layer interface {
	// Mailbox accepts every sip.TxCommand.
	Mailbox() chan<- sip.TxCommand
	// SubmitOutbound hands a request (new client transaction) or a response
	// (for a server transaction) to the layer. It returns once the command is
	// queued.
	SubmitOutbound(ctx context.Context, msg sip.Message, peer string) (sip.TxKey, error)
	// NotifyInbound queues a message received by the transport.
	NotifyInbound(ctx context.Context, msg sip.TransportMsg) error
	HasTransaction(ctx context.Context, key sip.TxKey) (bool, error)
	// 关闭释放资源
	Close()
	// 等待关闭动作完成
	Done() <-chan struct{}
	String() string
}

type layer struct {
	inbox     chan sip.TxCommand
	transport chan<- sip.TransportCommand
	tu        chan<- sip.TUEvent

	opts *Options
	env  *env

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	done   chan struct{}
}

// NewLayer starts the transaction layer. inbox is its mailbox; transport and
// tu are the mailboxes of the layers below and above.
// 创建实例化事务层
func NewLayer(inbox chan sip.TxCommand, transport chan<- sip.TransportCommand, tu chan<- sip.TUEvent, opts ...Option) Layer {
	ctx, cancel := context.WithCancel(context.Background())
	txl := &layer{
		inbox:     inbox,
		transport: transport,
		tu:        tu,
		opts:      newOptions(opts...),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	txl.env = &env{
		ctx:       ctx,
		transport: transport,
		tu:        tu,
		timings:   txl.opts.Timings,
		opts:      txl.opts,
		wg:        &txl.wg,
		remove:    txl.remove,
	}

	txl.wg.Add(1)
	go txl.listenMessages()

	return txl
}

func (txl *layer) String() string {
	return fmt.Sprintf("transaction.Layer<%d transactions>", txl.opts.Table.Len())
}

func (txl *layer) Mailbox() chan<- sip.TxCommand {
	return txl.inbox
}

func (txl *layer) Close() {
	txl.once.Do(func() {
		txl.cancel()
		txl.wg.Wait()
		logger.Debug("[txl_layer] -> transaction layer closed")
		close(txl.done)
	})
}

func (txl *layer) Done() <-chan struct{} {
	return txl.done
}

func (txl *layer) post(ctx context.Context, cmd sip.TxCommand) error {
	select {
	case <-txl.ctx.Done():
		return ErrLayerClosed
	default:
	}

	select {
	case txl.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-txl.ctx.Done():
		return ErrLayerClosed
	}
}

func (txl *layer) SubmitOutbound(ctx context.Context, msg sip.Message, peer string) (sip.TxKey, error) {
	switch m := msg.(type) {
	case *sip.Request:
		if m.IsAck() {
			return "", txl.post(ctx, sip.NewClientRequest{Request: m, Peer: peer})
		}
		key, err := MakeClientTxKey(m)
		if err != nil {
			return "", err
		}
		if m.IsInvite() {
			return key, txl.post(ctx, sip.NewClientInvite{Request: m, Peer: peer})
		}
		return key, txl.post(ctx, sip.NewClientRequest{Request: m, Peer: peer})
	case *sip.Response:
		key, err := MakeServerTxKey(m)
		if err != nil {
			return "", err
		}
		return key, txl.post(ctx, sip.Reply{Response: m})
	default:
		return "", errors.Errorf("unsupported message %v", msg)
	}
}

func (txl *layer) NotifyInbound(ctx context.Context, msg sip.TransportMsg) error {
	return txl.post(ctx, sip.TxIncoming{Msg: msg})
}

func (txl *layer) HasTransaction(ctx context.Context, key sip.TxKey) (bool, error) {
	result := make(chan bool, 1)
	if err := txl.post(ctx, sip.HasTransaction{Key: key, Result: result}); err != nil {
		return false, err
	}
	select {
	case ok := <-result:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-txl.ctx.Done():
		return false, ErrLayerClosed
	}
}

func (txl *layer) listenMessages() {
	defer txl.wg.Done()

	logger.Info("[txl_layer] -> start listen messages")
	defer logger.Info("[txl_layer] -> stop listen messages")

	for {
		select {
		case <-txl.ctx.Done():
			return
		case cmd := <-txl.inbox:
			txl.handle(cmd)
		}
	}
}

func (txl *layer) handle(cmd sip.TxCommand) {
	switch c := cmd.(type) {
	case sip.NewClientInvite:
		txl.startClient(UacInvite, c.Request, c.Peer, c.DialogID)
	case sip.NewClientRequest:
		if c.Request.IsAck() {
			// ACK for a 2xx travels end-to-end without a transaction
			txl.sendStateless(c.Request, c.Peer)
			return
		}
		txl.startClient(UacNonInvite, c.Request, c.Peer, c.DialogID)
	case sip.Reply:
		txl.handleReply(c.Response)
	case sip.TxIncoming:
		switch msg := c.Msg.Message.(type) {
		case *sip.Request:
			txl.handleRequest(c.Msg, msg)
		case *sip.Response:
			txl.handleResponse(c.Msg, msg)
		}
	case sip.TxTransportError:
		txl.handleTransportError(c)
	case sip.HasTransaction:
		select {
		case c.Result <- txl.opts.Table.Has(c.Key):
		default:
		}
	}
}

func (txl *layer) startClient(kind Kind, req *sip.Request, peer, dialogID string) {
	key, err := MakeClientTxKey(req)
	if err != nil {
		logger.Errorf("[txl_layer] -> create client transaction failed: %s", err)
		return
	}

	tx, err := newTransaction(kind, key, req, peer, dialogID, txl.env)
	if err != nil {
		logger.Errorf("[txl_layer] -> create client transaction failed: %s", err)
		return
	}
	txl.serveTransaction(tx)
}

func (txl *layer) serveTransaction(tx *transaction) {
	if !txl.opts.Table.PutIfAbsent(tx.key, tx) {
		logger.Warnf("[txl_layer] -> transaction %s already exists", tx.key)
		return
	}
	txl.opts.Metrics.TransactionCreated(tx.kind.String())
	logger.Debugf("[txl_layer] -> %s created", tx)

	txl.wg.Add(1)
	go tx.serve()
}

func (txl *layer) remove(tx *transaction) {
	deleted := txl.opts.Table.DeleteIf(tx.key, func(v *transaction) bool { return v == tx })
	if deleted {
		txl.opts.Metrics.TransactionRemoved()
		logger.Debugf("[txl_layer] -> %s deleted", tx)
	}
}

func (txl *layer) handleReply(res *sip.Response) {
	key, err := MakeServerTxKey(res)
	if err != nil {
		logger.Errorf("[txl_layer] -> invalid response from TU: %s", err)
		return
	}
	tx, ok := txl.opts.Table.Get(key)
	if !ok {
		logger.Warnf("[txl_layer] -> no server transaction %s for %s, dropping", key, res.Short())
		txl.opts.Metrics.Dropped("no_server_transaction")
		return
	}
	txl.deliver(tx, event{msg: res})
}

func (txl *layer) handleRequest(msg sip.TransportMsg, req *sip.Request) {
	key, err := MakeServerTxKey(req)
	if err != nil {
		logger.Errorf("[txl_layer] -> %s", err)
		txl.opts.Metrics.Dropped("invalid_request")
		return
	}

	// retransmission, or ACK for a non-2xx final response
	if tx, ok := txl.opts.Table.Get(key); ok {
		logger.Debugf("[txl_layer] -> server transaction %s found", key)
		txl.deliver(tx, event{msg: req, peer: msg.Peer})
		return
	}

	switch {
	case req.IsAck():
		id := sip.MakeDialogID(req)
		if txl.opts.Dialogs != nil && txl.opts.Dialogs.HasDialog(id) {
			txl.passUp(sip.TUIncoming{Msg: msg})
			return
		}
		logger.Debugf("[txl_layer] -> ACK %s matches no transaction or dialog, dropping", req.Short())
		txl.opts.Metrics.Dropped("unmatched_ack")
		return
	case req.IsCancel():
		target, err := CancelTargetKey(req)
		if err != nil || !txl.opts.Table.Has(target) {
			res := req.CreateResponse(sip.StatusCallTransactionDoesNotExist)
			if res.ToTag() == "" {
				res = res.WithToTag(sip.GenerateTag())
			}
			logger.Debugf("[txl_layer] -> CANCEL %s matches no transaction, responding 481", req.Short())
			txl.sendStateless(res, msg.Peer)
			return
		}
	}

	kind := UasNonInvite
	if req.IsInvite() {
		kind = UasInvite
	}
	tx, err := newTransaction(kind, key, req, msg.Peer, "", txl.env)
	if err != nil {
		logger.Errorf("[txl_layer] -> create server transaction failed: %s", err)
		return
	}
	txl.serveTransaction(tx)
}

func (txl *layer) handleResponse(msg sip.TransportMsg, res *sip.Response) {
	key, err := MakeClientTxKey(res)
	if err == nil {
		if tx, ok := txl.opts.Table.Get(key); ok {
			txl.deliver(tx, event{msg: res, peer: msg.Peer})
			return
		}
	}

	logger.Debugf("[txl_layer] -> %s: %s from %s, dropping", ErrUnmatchedResponse, res.Short(), msg.Peer)
	txl.opts.Metrics.Dropped("unmatched_response")
}

func (txl *layer) handleTransportError(c sip.TxTransportError) {
	var (
		key sip.TxKey
		err error
	)
	switch msg := c.Message.(type) {
	case *sip.Request:
		if msg.IsAck() {
			// an ACK for a non-2xx belongs to the INVITE client transaction
			key, err = MakeClientTxKey(msg)
			if _, ok := txl.opts.Table.Get(key); !ok {
				logger.Warnf("[txl_layer] -> send %s failed: %s", msg.Short(), c.Reason)
				return
			}
		} else {
			key, err = MakeClientTxKey(msg)
		}
	case *sip.Response:
		key, err = MakeServerTxKey(msg)
	}
	if err != nil {
		logger.Errorf("[txl_layer] -> %s", err)
		return
	}

	tx, ok := txl.opts.Table.Get(key)
	if !ok {
		logger.Warnf("[txl_layer] -> send failed outside any transaction: %s", c.Reason)
		return
	}
	txl.deliver(tx, event{isFail: true, cause: c.Reason})
}

func (txl *layer) deliver(tx *transaction, ev event) {
	if !tx.enqueue(ev) {
		logger.Warnf("[txl_layer] -> %s queue full, dropping event", tx)
		txl.opts.Metrics.Dropped("queue_full")
	}
}

// passUp never blocks the loop: when the TU mailbox is full the event is
// handed over from a helper goroutine.
func (txl *layer) passUp(ev sip.TUEvent) {
	select {
	case txl.tu <- ev:
		return
	default:
	}

	txl.wg.Add(1)
	go func() {
		defer txl.wg.Done()
		select {
		case txl.tu <- ev:
		case <-txl.ctx.Done():
		}
	}()
}

func (txl *layer) sendStateless(msg sip.Message, peer string) {
	select {
	case txl.transport <- sip.TransportOutgoing{Message: msg, Peer: peer}:
	case <-txl.ctx.Done():
	}
}
