package dialog

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/processor"
	"github.com/zenghr0820/sipcore/sip"
	"github.com/zenghr0820/sipcore/transaction"
)

// clientTx is a client transaction started by us, either for a caller of
// Request or on behalf of a relayed server transaction.
type clientTx struct {
	req     *sip.Request
	peer    string
	replies chan Reply

	proxied   bool
	serverKey sip.TxKey
	serverReq *sip.Request

	// answered is set by the 2xx to an INVITE; the entry stays for the
	// retransmitted 2xx until the sweeper drops it.
	answered time.Time
	// forks are the INVITE dialogs this request created, one per to-tag.
	forks []sip.DialogID
}

func (ct *clientTx) track(id sip.DialogID) {
	if !lo.Contains(ct.forks, id) {
		ct.forks = append(ct.forks, id)
	}
}

func (ct *clientTx) deliver(reply Reply) {
	if ct.replies == nil {
		return
	}
	select {
	case ct.replies <- reply:
	default:
		logger.Warnf("[tu_layer] -> reply for %s dropped, caller too slow", ct.req.Short())
	}
}

func (ct *clientTx) finish() {
	if ct.replies != nil {
		close(ct.replies)
		ct.replies = nil
	}
}

func (l *layer) startRequest(c clientCmd) {
	ct := &clientTx{req: c.req, peer: c.peer, replies: c.replies}
	if c.req.Method() == sip.BYE {
		// the dialog ends as soon as the BYE is sent RFC 3261 - 15.1.1
		if d, ok := l.lookup(sip.MakeDialogID(c.req)); ok {
			l.fire(d, eventTerminate)
		}
	}
	l.startClient(ct, c.peer)
}

// startClient registers ct and asks the transaction layer for a client
// transaction.
func (l *layer) startClient(ct *clientTx, peer string) (sip.TxKey, bool) {
	key, err := transaction.MakeClientTxKey(ct.req)
	if err != nil {
		logger.Errorf("[tu_layer] -> %s: %s", ct.req.Short(), err)
		ct.deliver(Reply{Err: err})
		ct.finish()
		return "", false
	}
	l.pending[key] = ct

	dialogID := ""
	if ct.req.ToTag() != "" {
		if d, ok := l.lookup(sip.MakeDialogID(ct.req)); ok {
			dialogID = d.ID().String()
			d.addTx(key)
			l.txDialogs[key] = d.ID()
		}
	}
	if ct.req.IsInvite() {
		l.toTx(sip.NewClientInvite{Request: ct.req, Peer: peer, DialogID: dialogID})
	} else {
		l.toTx(sip.NewClientRequest{Request: ct.req, Peer: peer, DialogID: dialogID})
	}

	return key, true
}

// relay forwards a request the proxy processor accepted. Responses travel
// back through handleResponse.
func (l *layer) relay(c processedCmd, fwd *processor.Forward) {
	ct := &clientTx{req: fwd.Request, peer: fwd.Peer, proxied: true, serverKey: c.key, serverReq: c.req}
	key, ok := l.startClient(ct, fwd.Peer)
	if !ok {
		l.respondAs(c.key, c.req, c.req.CreateResponse(sip.StatusServerInternalError), RoleProxy)
		return
	}
	if inv, ok := l.invites[c.key]; ok {
		inv.branch = key
		inv.fwd = fwd.Request
		inv.fwdPeer = fwd.Peer
	}
	logger.Debugf("[tu_layer] -> %s relayed as %s", c.req.Short(), key)
}

func (l *layer) handleResponse(res *sip.Response, key sip.TxKey) Outcome {
	ct, ok := l.pending[key]
	if !ok {
		logger.Debugf("[tu_layer] -> %s matches no request, dropped", res.Short())
		l.opts.Metrics.Dropped("unmatched_response")
		return NoDialog
	}
	retransmitted := !ct.answered.IsZero()
	if retransmitted && !res.IsSuccess() {
		return NoDialog
	}

	var outcome Outcome
	if ct.proxied {
		outcome = l.relayResponse(ct, res)
	} else {
		var id sip.DialogID
		outcome, id = l.clientDialog(key, ct, res)
		if !retransmitted {
			ct.deliver(Reply{Response: res, DialogID: id})
		}
		if res.IsSuccess() && ct.req.IsInvite() && l.opts.AutoAck {
			if d, ok := l.lookup(id); ok {
				l.sendAck(d, res)
			}
		}
	}

	if res.IsFinal() && !retransmitted {
		if res.IsSuccess() && ct.req.IsInvite() {
			ct.answered = time.Now()
		} else {
			delete(l.pending, key)
		}
		ct.finish()
	}

	return outcome
}

// relayResponse sends a downstream response up the server transaction with
// our Via removed. A 100 is hop by hop and stays here.
func (l *layer) relayResponse(ct *clientTx, res *sip.Response) Outcome {
	if ct.serverKey == "" || res.StatusCode() == sip.StatusTrying {
		return NoDialog
	}
	id := sip.MakeDialogID(res)
	existed := l.HasDialog(id)

	up := res.CloneResponse()
	up.RemoveTopVia()
	l.respondAs(ct.serverKey, ct.serverReq, up, RoleProxy)

	switch {
	case existed:
		return RoutedExisting
	case id.Complete() && l.HasDialog(id):
		return NewDialog
	default:
		return NoDialog
	}
}

// clientDialog creates or updates the dialog a response to our request
// establishes.
func (l *layer) clientDialog(key sip.TxKey, ct *clientTx, res *sip.Response) (Outcome, sip.DialogID) {
	id := sip.MakeDialogID(res)
	if !id.Complete() {
		return NoDialog, id
	}
	code := res.StatusCode()
	spec := func(flow Flow) dialogSpec { return uacSpec(id, flow, ct, res) }

	switch ct.req.Method() {
	case sip.INVITE:
		if ct.req.ToTag() != "" {
			d, ok := l.lookup(id)
			if !ok {
				return NoDialog, id
			}
			if code >= 200 && code < 300 {
				d.setRemoteTarget(contactURI(res))
			}
			return RoutedExisting, d.ID()
		}
		switch {
		case code < 200:
			d, created := l.create(spec(FlowInvite), key)
			ct.track(d.ID())
			l.fire(d, eventProvisional)
			return outcomeOf(created), d.ID()
		case code < 300:
			d, created := l.create(spec(FlowInvite), key)
			ct.track(d.ID())
			d.setRemoteTarget(contactURI(res))
			l.fire(d, eventAccept)
			return outcomeOf(created), d.ID()
		default:
			// every early dialog of this transaction ends, whatever its tag
			l.endEarly(ct, eventTerminate)
			if d, ok := l.opts.Table.Get(id); ok {
				return RoutedExisting, d.ID()
			}
			return NoDialog, id
		}
	case sip.REGISTER:
		if code >= 200 && code < 300 {
			return l.registered(key, ct.req, res, spec(FlowRegistration))
		}
	case sip.PUBLISH:
		if code >= 200 && code < 300 {
			return l.published(key, res, spec(FlowPublish))
		}
	case sip.BYE:
		if d, ok := l.lookup(id); ok {
			if code >= 200 {
				l.fire(d, eventTerminate)
			}
			return RoutedExisting, d.ID()
		}
	default:
		if d, ok := l.lookup(id); ok {
			return RoutedExisting, d.ID()
		}
	}

	return NoDialog, id
}

// registered keeps the registration dialog of a REGISTER 2xx in step with
// the bindings it reports.
func (l *layer) registered(key sip.TxKey, req *sip.Request, res *sip.Response, spec dialogSpec) (Outcome, sip.DialogID) {
	expires, ok := contactExpiry(res)
	d, exists := l.registration(req)
	switch {
	case exists && !ok:
		l.fire(d, eventTerminate)
		return RoutedExisting, d.ID()
	case exists:
		d.setExpires(time.Now().Add(expires))
		return RoutedExisting, d.ID()
	case !ok:
		return NoDialog, spec.id
	}

	d, created := l.create(spec, key)
	d.regKey = regKey(req)
	d.setExpires(time.Now().Add(expires))
	l.registrations[d.regKey] = d.ID()
	return outcomeOf(created), d.ID()
}

func (l *layer) published(key sip.TxKey, res *sip.Response, spec dialogSpec) (Outcome, sip.DialogID) {
	d, created := l.create(spec, key)
	if expires := headerExpiry(res); expires > 0 {
		d.setExpires(time.Now().Add(expires))
	} else {
		l.fire(d, eventTerminate)
	}
	return outcomeOf(created), d.ID()
}

// endEarly drives the dialogs of ct that never got a 2xx out of the early
// state.
func (l *layer) endEarly(ct *clientTx, event string) {
	for _, id := range ct.forks {
		d, ok := l.opts.Table.Get(id)
		if !ok {
			continue
		}
		if s := d.State(); s == StateUnconfirmed || s == StateEarly {
			l.fire(d, event)
		}
	}
}

func uacSpec(id sip.DialogID, flow Flow, ct *clientTx, res *sip.Response) dialogSpec {
	local, _ := ct.req.GetHeader("From")
	remote, _ := res.GetHeader("To")
	seq, _, _ := ct.req.CSeq()
	spec := dialogSpec{
		id:       id,
		role:     RoleUAC,
		flow:     flow,
		local:    local,
		remote:   remote,
		peer:     ct.peer,
		localSeq: seq,
	}
	if target := contactURI(res); target != "" {
		spec.remoteTarget = target
		spec.direct = true
	} else {
		spec.remoteTarget = ct.req.Recipient()
	}
	return spec
}

// sendAck acknowledges a 2xx end to end RFC 3261 - 13.2.2.4. The ACK has a
// branch of its own and no transaction.
func (l *layer) sendAck(d *Dialog, res *sip.Response) {
	seq, _, _ := res.CSeq()
	from, _ := res.GetHeader("From")
	to, _ := res.GetHeader("To")
	ack := sip.NewRequest(sip.ACK, d.RemoteTarget(), []sip.Header{
		{Name: "Via", Value: fmt.Sprintf("%s/%s %s;branch=%s;rport", sip.SipVersion, sip.DefaultProtocol, l.opts.SentBy, sip.GenerateBranch())},
		{Name: "Max-Forwards", Value: "70"},
		{Name: "From", Value: from},
		{Name: "To", Value: to},
		{Name: "Call-ID", Value: res.CallID()},
		{Name: "CSeq", Value: fmt.Sprintf("%d %s", seq, sip.ACK)},
	}, "")

	logger.Debugf("[%s] -> ACK for %s", d, res.Short())
	l.toTx(sip.NewClientRequest{Request: ack, Peer: d.targetPeer(), DialogID: d.ID().String()})
}

// handleTxError turns a failed transaction into responses, dialog failure
// and an Event.
func (l *layer) handleTxError(e sip.TUTransportError) {
	kind := txFailure(e.Reason)
	ev := Event{Kind: kind, Key: e.Key, Message: e.Message, Err: e.Reason}
	logger.Warnf("[tu_layer] -> transaction %s failed: %s", e.Key, e.Reason)

	if ct, ok := l.pending[e.Key]; ok {
		delete(l.pending, e.Key)
		if ct.answered.IsZero() {
			l.endEarly(ct, eventFail)
			switch {
			case ct.proxied && ct.serverKey != "":
				status := sip.StatusServiceUnavailable
				if kind == EventTimeout {
					status = sip.StatusRequestTimeout
				}
				l.respondAs(ct.serverKey, ct.serverReq, ct.serverReq.CreateResponse(status), RoleProxy)
			default:
				ct.deliver(Reply{Err: e.Reason})
				ct.finish()
			}
		}
	}

	if id, ok := l.txDialogs[e.Key]; ok {
		ev.DialogID = id
		if d, ok := l.opts.Table.Get(id); ok {
			l.fire(d, eventFail)
			ev.Flow = d.Flow()
			ev.State = d.State()
		}
	}
	delete(l.invites, e.Key)
	delete(l.tags, e.Key)

	l.publish(ev)
}

func outcomeOf(created bool) Outcome {
	if created {
		return NewDialog
	}
	return RoutedExisting
}
