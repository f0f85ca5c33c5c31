package dialog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/processor"
	"github.com/zenghr0820/sipcore/sip"
	"github.com/zenghr0820/sipcore/transaction"
)

// serverInvite is an INVITE server transaction still waiting for its final
// response.
type serverInvite struct {
	req  *sip.Request
	peer string
	// set when the INVITE was relayed
	branch  sip.TxKey
	fwd     *sip.Request
	fwdPeer string
}

// retransmit drives the 2xx retransmission of a UAS INVITE dialog
// RFC 3261 - 13.3.1.4.
type retransmit struct {
	res      *sip.Response
	interval time.Duration
	deadline time.Time
	timer    *time.Timer
}

func (l *layer) handleRequest(msg sip.TransportMsg, req *sip.Request, key sip.TxKey) Outcome {
	switch {
	case req.IsAck():
		return l.handleAck(req)
	case req.IsCancel():
		l.handleCancel(req, key)
		return NoDialog
	}

	if req.ToTag() != "" && req.Method() != sip.REGISTER {
		return l.handleInDialog(msg, req, key)
	}

	outcome := NoDialog
	if req.Method() == sip.REGISTER {
		if d, ok := l.registration(req); ok {
			outcome = RoutedExisting
			d.addTx(key)
			l.tags[key] = d.ID().ToTag
			l.txDialogs[key] = d.ID()
		}
	}
	if req.IsInvite() {
		l.invites[key] = &serverInvite{req: req, peer: msg.Peer}
	}
	l.dispatch(msg, req, key)

	return outcome
}

func (l *layer) handleInDialog(msg sip.TransportMsg, req *sip.Request, key sip.TxKey) Outcome {
	d, ok := l.lookup(sip.MakeDialogID(req))
	if !ok || !d.State().Live() {
		logger.Debugf("[tu_layer] -> %s for unknown dialog", req.Short())
		l.respond(key, req, req.CreateResponse(sip.StatusCallTransactionDoesNotExist))
		return NoDialog
	}
	if !d.acceptSeq(req) {
		l.respond(key, req, req.CreateResponseReason(sip.StatusServerInternalError, "CSeq Out Of Order"))
		return RoutedExisting
	}
	d.addTx(key)
	l.txDialogs[key] = d.ID()

	switch req.Method() {
	case sip.BYE:
		l.fire(d, eventTerminate)
		l.respond(key, req, req.CreateResponse(sip.StatusOK))
	case sip.INVITE:
		if target := contactURI(req); target != "" {
			d.setRemoteTarget(target)
		}
		l.invites[key] = &serverInvite{req: req, peer: msg.Peer}
		l.dispatch(msg, req, key)
	default:
		l.dispatch(msg, req, key)
	}

	return RoutedExisting
}

// handleAck routes an ACK that arrived without a transaction, the ACK for a
// 2xx.
func (l *layer) handleAck(req *sip.Request) Outcome {
	d, ok := l.lookup(sip.MakeDialogID(req))
	if !ok {
		logger.Debugf("[tu_layer] -> %s for unknown dialog dropped", req.Short())
		return NoDialog
	}
	l.stopRetransmit(d.ID())
	l.fire(d, eventAck)
	return RoutedExisting
}

// handleCancel answers the CANCEL and ends the INVITE it targets
// RFC 3261 - 9.2. A relayed INVITE is cancelled downstream; its 487 comes
// back through the relay.
func (l *layer) handleCancel(req *sip.Request, key sip.TxKey) {
	target, err := transaction.CancelTargetKey(req)
	if err != nil {
		logger.Warnf("[tu_layer] -> %s: %s", req.Short(), err)
		l.respond(key, req, req.CreateResponse(sip.StatusBadRequest))
		return
	}

	inv, ok := l.invites[target]
	if !ok {
		l.respond(key, req, req.CreateResponse(sip.StatusCallTransactionDoesNotExist))
		return
	}
	l.tags[key] = l.localTag(target)
	l.respond(key, req, req.CreateResponse(sip.StatusOK))

	if inv.branch != "" {
		cancel := sip.CreateCancel(inv.fwd)
		logger.Debugf("[tu_layer] -> cancel relayed %s", inv.branch)
		l.startClient(&clientTx{req: cancel, peer: inv.fwdPeer, proxied: true}, inv.fwdPeer)
		return
	}
	l.respond(target, inv.req, inv.req.CreateResponse(sip.StatusRequestTerminated))
}

// dispatch hands an out-of-dialog request to its processor on a handler
// goroutine. The result comes back to the loop as a processedCmd.
func (l *layer) dispatch(msg sip.TransportMsg, req *sip.Request, key sip.TxKey) {
	p, ok := l.opts.Processors.Lookup(req.Method())
	if !ok {
		res := req.CreateResponse(sip.StatusMethodNotAllowed)
		res.AddHeader("Allow", processor.AllowHeader(l.AllowedMethods()))
		l.respond(key, req, res)
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		started := time.Now()
		ctx, cancel := context.WithTimeout(l.ctx, l.opts.ProcessorTimeout)
		defer cancel()

		result, err := handle(ctx, p, req)
		l.opts.Metrics.Processed(p.Kind().String(), started)

		select {
		case l.cmds <- processedCmd{key: key, req: req, peer: msg.Peer, kind: p.Kind(), result: result, err: err}:
		case <-l.ctx.Done():
		}
	}()
}

// handle runs the processor; a panic becomes a 500.
func handle(ctx context.Context, p processor.Processor, req *sip.Request) (result processor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = processor.Fail(sip.StatusServerInternalError, errors.Errorf("processor %s panic: %v", p.Kind(), r))
		}
	}()
	return p.Handle(ctx, req.Method(), req)
}

func (l *layer) handleProcessed(c processedCmd) {
	if c.req.IsInvite() {
		if _, ok := l.invites[c.key]; !ok {
			logger.Debugf("[tu_layer] -> %s already answered, %s result dropped", c.req.Short(), c.kind)
			return
		}
	}

	if c.err != nil {
		status := sip.StatusServerInternalError
		var perr *processor.ProcessorError
		if errors.As(c.err, &perr) && perr.Status >= 300 {
			status = perr.Status
		}
		logger.Warnf("[tu_layer] -> %s processor %s failed: %s", c.req.Short(), c.kind, c.err)
		l.publish(Event{Kind: EventProcessorError, Key: c.key, Message: c.req, Err: c.err})
		l.respond(c.key, c.req, c.req.CreateResponse(status))
		return
	}

	switch {
	case c.result.Forward != nil:
		l.relay(c, c.result.Forward)
	case c.result.Response != nil:
		l.respond(c.key, c.req, c.result.Response)
	default:
		err := errors.Errorf("processor %s returned an empty result", c.kind)
		l.publish(Event{Kind: EventProcessorError, Key: c.key, Message: c.req, Err: err})
		l.respond(c.key, c.req, c.req.CreateResponse(sip.StatusServerInternalError))
	}
}

// respond sends res on the server transaction key as the UAS.
func (l *layer) respond(key sip.TxKey, req *sip.Request, res *sip.Response) {
	l.respondAs(key, req, res, RoleUAS)
}

func (l *layer) respondAs(key sip.TxKey, req *sip.Request, res *sip.Response, role Role) {
	code := res.StatusCode()
	if code > 100 && res.ToTag() == "" {
		res = res.WithToTag(l.localTag(key))
	}
	l.serverDialog(key, req, res, role)

	if code >= 200 {
		delete(l.tags, key)
		if req.IsInvite() {
			delete(l.invites, key)
		}
	}
	l.opts.Metrics.Request(string(req.Method()), int(code))
	l.toTx(sip.Reply{Response: res})
}

// localTag is the To tag of every response on one server transaction.
func (l *layer) localTag(key sip.TxKey) string {
	if tag, ok := l.tags[key]; ok {
		return tag
	}
	tag := sip.GenerateTag()
	l.tags[key] = tag
	return tag
}

// serverDialog creates or updates the dialog a response of ours establishes.
func (l *layer) serverDialog(key sip.TxKey, req *sip.Request, res *sip.Response, role Role) {
	id := sip.MakeDialogID(res)
	if !id.Complete() {
		return
	}
	code := res.StatusCode()

	switch req.Method() {
	case sip.INVITE:
		if req.ToTag() != "" {
			// re-INVITE inside an existing dialog
			return
		}
		switch {
		case code < 200:
			d, _ := l.create(l.uasSpec(key, id, role, FlowInvite, req, res), key)
			l.fire(d, eventProvisional)
		case code < 300:
			d, _ := l.create(l.uasSpec(key, id, role, FlowInvite, req, res), key)
			if role == RoleProxy {
				d.setExpires(time.Now().Add(l.opts.ProxiedLifetime))
			}
			if l.fire(d, eventAccept) && d.State() == StateUnacked {
				l.startRetransmit(d, res)
			}
		default:
			if d, ok := l.opts.Table.Get(id); ok {
				l.fire(d, eventTerminate)
			}
		}
	case sip.REGISTER:
		if code >= 200 && code < 300 {
			l.registered(key, req, res, l.uasSpec(key, id, role, FlowRegistration, req, res))
		}
	case sip.PUBLISH:
		if code >= 200 && code < 300 {
			l.published(key, res, l.uasSpec(key, id, role, FlowPublish, req, res))
		}
	}
}

func (l *layer) uasSpec(key sip.TxKey, id sip.DialogID, role Role, flow Flow, req *sip.Request, res *sip.Response) dialogSpec {
	local, _ := res.GetHeader("To")
	remote, _ := req.GetHeader("From")
	seq, _, _ := req.CSeq()
	spec := dialogSpec{
		id:        id,
		role:      role,
		flow:      flow,
		local:     local,
		remote:    remote,
		remoteSeq: seq,
	}
	if inv, ok := l.invites[key]; ok {
		spec.peer = inv.peer
	}
	if target := contactURI(req); target != "" {
		spec.remoteTarget = target
		spec.direct = true
	} else {
		spec.remoteTarget = sip.AddressURI(remote)
	}
	return spec
}

// registration returns the live registration dialog refreshed by req.
func (l *layer) registration(req *sip.Request) (*Dialog, bool) {
	id, ok := l.registrations[regKey(req)]
	if !ok {
		return nil, false
	}
	d, ok := l.opts.Table.Get(id)
	if !ok || !d.State().Live() {
		return nil, false
	}
	return d, true
}

func (l *layer) startRetransmit(d *Dialog, res *sip.Response) {
	t1 := l.opts.Timings.T1
	r := &retransmit{
		res:      res,
		interval: t1,
		deadline: time.Now().Add(l.opts.Timings.L()),
	}
	id := d.ID()
	r.timer = time.AfterFunc(r.interval, func() { l.postRetransmit(id) })
	l.stopRetransmit(id)
	l.retrans[id] = r
}

func (l *layer) postRetransmit(id sip.DialogID) {
	select {
	case l.cmds <- retransmitCmd{id: id}:
	case <-l.ctx.Done():
	}
}

func (l *layer) retransmit(id sip.DialogID) {
	r, ok := l.retrans[id]
	if !ok {
		return
	}
	if !time.Now().Before(r.deadline) {
		delete(l.retrans, id)
		if d, ok := l.opts.Table.Get(id); ok {
			logger.Warnf("[%s] -> no ACK for 2xx", d)
			l.fire(d, eventFail)
			l.publish(Event{Kind: EventTimeout, DialogID: id, Flow: d.Flow(), State: d.State(), Message: r.res, Err: ErrNoAck})
		}
		return
	}

	l.opts.Metrics.Retransmission("dialog_2xx")
	l.toTx(sip.Reply{Response: r.res})

	r.interval *= 2
	if t2 := l.opts.Timings.T2; r.interval > t2 {
		r.interval = t2
	}
	r.timer = time.AfterFunc(r.interval, func() { l.postRetransmit(id) })
}

func (l *layer) stopRetransmit(id sip.DialogID) {
	if r, ok := l.retrans[id]; ok {
		r.timer.Stop()
		delete(l.retrans, id)
	}
}

func regKey(req *sip.Request) string {
	return fmt.Sprintf("%s__%s", req.CallID(), req.FromTag())
}

// contactURI is the URI of the first Contact, "" when there is none.
func contactURI(msg sip.Message) string {
	contacts := msg.GetHeaders("Contact")
	if len(contacts) == 0 || strings.TrimSpace(contacts[0]) == "*" {
		return ""
	}
	return sip.AddressURI(contacts[0])
}

// contactExpiry is the longest binding a REGISTER 2xx reports; false when it
// lists no binding.
func contactExpiry(res *sip.Response) (time.Duration, bool) {
	longest := -1
	for _, contact := range res.GetHeaders("Contact") {
		sec := -1
		if v, ok := sip.HeaderParam(contact, "expires"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				sec = n
			}
		}
		if sec > longest {
			longest = sec
		}
	}
	if longest < 0 {
		if exp := headerExpiry(res); exp > 0 {
			return exp, true
		}
		return 0, false
	}
	if longest == 0 {
		return 0, false
	}
	return time.Duration(longest) * time.Second, true
}

func headerExpiry(msg sip.Message) time.Duration {
	v, ok := msg.GetHeader("Expires")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
