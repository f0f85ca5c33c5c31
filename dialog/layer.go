package dialog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/processor"
	"github.com/zenghr0820/sipcore/sip"
	"github.com/zenghr0820/sipcore/transaction"
)

// Layer is the transaction user: it owns the dialogs, dispatches requests to
// processors and relays proxied transactions.
// 对话层
type Layer interface {
	// Mailbox accepts every sip.TUEvent from the transaction layer.
	Mailbox() chan<- sip.TUEvent
	// ProcessIncoming routes a message the transaction layer passed up.
	ProcessIncoming(ctx context.Context, msg sip.TransportMsg, key sip.TxKey) (Outcome, error)
	// HasDialog looks the id up in both orientations.
	HasDialog(id sip.DialogID) bool
	Dialog(id sip.DialogID) (*Dialog, bool)
	// Request starts a client transaction. The channel yields every response
	// and is closed after the final one or an error.
	Request(ctx context.Context, req *sip.Request, peer string) (<-chan Reply, error)
	Invite(ctx context.Context, req *sip.Request, peer string) (<-chan Reply, error)
	// AllowedMethods is what a 405 or an OPTIONS answer lists.
	AllowedMethods() []sip.RequestMethod
	// Events is closed after the layer stopped.
	Events() <-chan Event
	Close()
	Done() <-chan struct{}
	String() string
}

// commands handled by the loop besides TU events
type command interface{}

type processCmd struct {
	msg    sip.TransportMsg
	key    sip.TxKey
	result chan<- Outcome
}

type clientCmd struct {
	req     *sip.Request
	peer    string
	replies chan Reply
}

type processedCmd struct {
	key    sip.TxKey
	req    *sip.Request
	peer   string
	kind   processor.Kind
	result processor.Result
	err    error
}

type retransmitCmd struct {
	id sip.DialogID
}

type layer struct {
	inbox  chan sip.TUEvent
	tx     chan<- sip.TxCommand
	cmds   chan command
	events chan Event

	opts *Options

	// owned by the loop goroutine
	pending       map[sip.TxKey]*clientTx
	invites       map[sip.TxKey]*serverInvite
	tags          map[sip.TxKey]string
	txDialogs     map[sip.TxKey]sip.DialogID
	registrations map[string]sip.DialogID
	retrans       map[sip.DialogID]*retransmit

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	done   chan struct{}
}

// NewLayer starts the dialog layer. inbox is its mailbox; tx is the mailbox
// of the transaction layer.
func NewLayer(inbox chan sip.TUEvent, tx chan<- sip.TxCommand, opts ...Option) Layer {
	ctx, cancel := context.WithCancel(context.Background())
	options := newOptions(opts...)
	l := &layer{
		inbox:         inbox,
		tx:            tx,
		cmds:          make(chan command, 64),
		events:        make(chan Event, options.EventsSize),
		opts:          options,
		pending:       make(map[sip.TxKey]*clientTx),
		invites:       make(map[sip.TxKey]*serverInvite),
		tags:          make(map[sip.TxKey]string),
		txDialogs:     make(map[sip.TxKey]sip.DialogID),
		registrations: make(map[string]sip.DialogID),
		retrans:       make(map[sip.DialogID]*retransmit),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	l.wg.Add(1)
	go l.listenMessages()

	return l
}

func (l *layer) String() string {
	return fmt.Sprintf("dialog.Layer<%d dialogs>", l.opts.Table.Len())
}

func (l *layer) Mailbox() chan<- sip.TUEvent {
	return l.inbox
}

func (l *layer) Events() <-chan Event {
	return l.events
}

func (l *layer) Done() <-chan struct{} {
	return l.done
}

func (l *layer) Close() {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
		for _, r := range l.retrans {
			r.timer.Stop()
		}
		close(l.events)
		logger.Debug("[tu_layer] -> dialog layer closed")
		close(l.done)
	})
}

func (l *layer) AllowedMethods() []sip.RequestMethod {
	methods := append(l.opts.Processors.AllowedMethods(), sip.ACK, sip.BYE, sip.CANCEL)
	methods = lo.Uniq(methods)
	sortMethods(methods)
	return methods
}

func (l *layer) HasDialog(id sip.DialogID) bool {
	_, ok := l.lookup(id)
	return ok
}

func (l *layer) Dialog(id sip.DialogID) (*Dialog, bool) {
	return l.lookup(id)
}

func (l *layer) lookup(id sip.DialogID) (*Dialog, bool) {
	if d, ok := l.opts.Table.Get(id); ok {
		return d, true
	}
	return l.opts.Table.Get(id.Swap())
}

// post hands a command to the loop.
func (l *layer) post(ctx context.Context, cmd command) error {
	select {
	case <-l.ctx.Done():
		return ErrLayerClosed
	default:
	}

	select {
	case l.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLayerClosed
	}
}

func (l *layer) ProcessIncoming(ctx context.Context, msg sip.TransportMsg, key sip.TxKey) (Outcome, error) {
	result := make(chan Outcome, 1)
	if err := l.post(ctx, processCmd{msg: msg, key: key, result: result}); err != nil {
		return NoDialog, err
	}
	select {
	case outcome := <-result:
		return outcome, nil
	case <-ctx.Done():
		return NoDialog, ctx.Err()
	case <-l.ctx.Done():
		return NoDialog, ErrLayerClosed
	}
}

func (l *layer) Request(ctx context.Context, req *sip.Request, peer string) (<-chan Reply, error) {
	if req.IsAck() || req.IsCancel() {
		return nil, &MethodError{Method: req.Method(), Want: "a method with its own transaction"}
	}
	replies := make(chan Reply, 8)
	if err := l.post(ctx, clientCmd{req: req, peer: peer, replies: replies}); err != nil {
		return nil, err
	}
	return replies, nil
}

func (l *layer) Invite(ctx context.Context, req *sip.Request, peer string) (<-chan Reply, error) {
	if !req.IsInvite() {
		return nil, &MethodError{Method: req.Method(), Want: string(sip.INVITE)}
	}
	return l.Request(ctx, req, peer)
}

func (l *layer) listenMessages() {
	defer l.wg.Done()

	logger.Info("[tu_layer] -> start listen messages")
	defer logger.Info("[tu_layer] -> stop listen messages")

	sweep := time.NewTicker(l.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.inbox:
			l.handleEvent(ev)
		case cmd := <-l.cmds:
			l.handleCommand(cmd)
		case now := <-sweep.C:
			l.sweep(now)
		}
	}
}

func (l *layer) handleEvent(ev sip.TUEvent) {
	switch e := ev.(type) {
	case sip.TUIncoming:
		outcome := l.process(e.Msg, e.Key)
		logger.Debugf("[tu_layer] -> %s routed: %s", e.Msg, outcome)
	case sip.TUTransportError:
		l.handleTxError(e)
	}
}

func (l *layer) handleCommand(cmd command) {
	switch c := cmd.(type) {
	case processCmd:
		c.result <- l.process(c.msg, c.key)
	case clientCmd:
		l.startRequest(c)
	case processedCmd:
		l.handleProcessed(c)
	case retransmitCmd:
		l.retransmit(c.id)
	}
}

func (l *layer) process(msg sip.TransportMsg, key sip.TxKey) Outcome {
	switch m := msg.Message.(type) {
	case *sip.Request:
		return l.handleRequest(msg, m, key)
	case *sip.Response:
		return l.handleResponse(m, key)
	default:
		return NoDialog
	}
}

// toTx posts to the transaction mailbox. The transaction loop never blocks
// on us, so waiting here is bounded.
func (l *layer) toTx(cmd sip.TxCommand) {
	select {
	case l.tx <- cmd:
	case <-l.ctx.Done():
	}
}

// publish never blocks; a slow consumer loses events.
func (l *layer) publish(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.opts.Metrics.Dropped("events_full")
		logger.Warnf("[tu_layer] -> events full, %s dropped", ev)
	}
}

// fire drives the dialog FSM. It reports whether the state changed.
func (l *layer) fire(d *Dialog, event string) bool {
	if err := d.fsm.Event(l.ctx, event); err != nil {
		var noop fsm.NoTransitionError
		if !errors.As(err, &noop) {
			logger.Debugf("[%s] -> %s ignored in %s: %s", d, event, d.State(), err)
		}
		return false
	}
	return true
}

// stateChanged runs inside fire, on the loop goroutine.
func (l *layer) stateChanged(d *Dialog, from, to State) {
	logger.Debugf("[%s] -> %s -> %s", d, from, to)
	l.opts.Recorder.Record(d.record(to))
	l.opts.Metrics.DialogState(string(to))
	if !to.Live() {
		l.stopRetransmit(d.ID())
	}
	l.publish(Event{Kind: EventDialogState, DialogID: d.ID(), Flow: d.Flow(), State: to})
}

// create stores a new dialog unless one exists under id already.
func (l *layer) create(spec dialogSpec, key sip.TxKey) (*Dialog, bool) {
	if d, ok := l.lookup(spec.id); ok {
		d.addTx(key)
		return d, false
	}
	spec.sentBy = l.opts.SentBy
	d := newDialog(spec, l.stateChanged)
	d.addTx(key)
	if !l.opts.Table.PutIfAbsent(spec.id, d) {
		existing, _ := l.opts.Table.Get(spec.id)
		return existing, false
	}
	if key != "" {
		l.txDialogs[key] = spec.id
	}

	logger.Debugf("[%s] -> dialog created, flow %s", d, d.Flow())
	l.opts.Metrics.DialogCreated(d.Flow().String())
	l.opts.Recorder.Record(d.record(d.State()))
	l.publish(Event{Kind: EventDialogCreated, DialogID: d.ID(), Flow: d.Flow(), State: d.State(), Key: key})
	return d, true
}

func (l *layer) remove(d *Dialog) {
	removed := l.opts.Table.DeleteIf(d.ID(), func(stored *Dialog) bool {
		return stored == d
	})
	if !removed {
		return
	}
	for _, key := range d.TxKeys() {
		if l.txDialogs[key] == d.ID() {
			delete(l.txDialogs, key)
		}
	}
	if d.regKey != "" && l.registrations[d.regKey] == d.ID() {
		delete(l.registrations, d.regKey)
	}
	l.stopRetransmit(d.ID())
	l.opts.Metrics.DialogRemoved()
	logger.Debugf("[%s] -> dialog removed", d)
}

// sweep ends expired dialogs and removes the ended ones after Linger.
func (l *layer) sweep(now time.Time) {
	answered := l.opts.Timings.M()
	for key, ct := range l.pending {
		if !ct.answered.IsZero() && now.Sub(ct.answered) >= answered {
			// forks still early 64*T1 after the first 2xx are over RFC 3261 - 13.2.2.4
			l.endEarly(ct, eventTerminate)
			delete(l.pending, key)
		}
	}
	for _, d := range l.opts.Table.Values() {
		if expires := d.Expires(); d.State().Live() && !expires.IsZero() && now.After(expires) {
			logger.Debugf("[%s] -> expired", d)
			l.fire(d, eventTerminate)
		}
		if !d.State().Live() && now.Sub(d.UpdatedAt()) >= l.opts.Linger {
			l.remove(d)
		}
	}
}

func sortMethods(methods []sip.RequestMethod) {
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
}

func txFailure(reason error) EventKind {
	var txErr transaction.TxError
	if errors.As(reason, &txErr) && txErr.Timeout() {
		return EventTimeout
	}
	return EventTransportError
}
