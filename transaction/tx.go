package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/discoviking/fsm"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/persist"
	"github.com/zenghr0820/sipcore/sip"
)

// event is one entry of a transaction queue.
type event struct {
	msg    sip.Message
	peer   string
	cause  error
	timer  timerID
	epoch  uint64
	isTmr  bool
	isFail bool
}

// transaction owns one machine and runs it on its own goroutine. All state
// is touched by that goroutine only; timers and the layer talk to it through
// queue.
type transaction struct {
	key      sip.TxKey
	kind     Kind
	peer     string
	lastPeer string
	dialogID string
	recordID string
	created  time.Time

	m     *machine
	queue chan event
	exit  chan struct{}

	epoch     uint64
	timers    map[timerID]*time.Timer
	deadlines map[timerID]time.Time

	env *env
}

// env is what a transaction needs from its layer, injected at creation.
type env struct {
	ctx       context.Context
	transport chan<- sip.TransportCommand
	tu        chan<- sip.TUEvent
	timings   Timings
	opts      *Options
	wg        *sync.WaitGroup
	remove    func(tx *transaction)
}

func newTransaction(kind Kind, key sip.TxKey, req *sip.Request, peer, dialogID string, e *env) (*transaction, error) {
	m, err := newMachine(kind, key, req, e.timings)
	if err != nil {
		return nil, err
	}

	return &transaction{
		key:       key,
		kind:      kind,
		peer:      peer,
		lastPeer:  peer,
		dialogID:  dialogID,
		recordID:  persist.NewRecordID(),
		created:   time.Now(),
		m:         m,
		queue:     make(chan event, e.opts.QueueSize),
		exit:      make(chan struct{}),
		timers:    make(map[timerID]*time.Timer),
		deadlines: make(map[timerID]time.Time),
		env:       e,
	}, nil
}

func (tx *transaction) String() string {
	return fmt.Sprintf("transaction.%s<%s>", tx.kind, tx.key)
}

// enqueue never blocks; the layer loop must keep draining its mailbox.
func (tx *transaction) enqueue(ev event) bool {
	select {
	case tx.queue <- ev:
		return true
	default:
		return false
	}
}

func (tx *transaction) serve() {
	defer tx.env.wg.Done()
	defer func() {
		tx.stopTimers()
		close(tx.exit)
		tx.env.remove(tx)
	}()

	logger.Debugf("[%s] -> start serve transaction", tx)
	defer logger.Debugf("[%s] -> stop serve transaction", tx)

	effects := tx.m.start()
	tx.record()
	tx.apply(effects)

	var dispose <-chan time.Time
	for {
		select {
		case <-tx.env.ctx.Done():
			return
		case <-dispose:
			return
		case ev := <-tx.queue:
			if ev.isTmr && ev.epoch != tx.epoch {
				logger.Debugf("[%s] -> stale timer %s ignored", tx, ev.timer)
				continue
			}

			in, ok := tx.input(ev)
			if !ok {
				continue
			}
			if ev.peer != "" {
				tx.lastPeer = ev.peer
			}

			prev := tx.m.state
			effects, err := tx.m.step(in, ev.msg, ev.cause)
			if err != nil {
				logger.Errorf("[%s] -> spin FSM failed: %s", tx, err)
				continue
			}
			if tx.m.state != prev {
				// entering a new state invalidates every pending timer
				tx.epoch++
				tx.stopTimers()
				tx.record()
				tx.env.opts.Metrics.TransactionState(tx.kind.String(), tx.m.state.String())
				logger.Debugf("[%s] -> %s -> %s", tx, prev, tx.m.state)
			}
			tx.apply(effects)

			if tx.m.state == StateTerminated && dispose == nil {
				dispose = time.After(tx.env.timings.DisposeGrace)
			}
		}
	}
}

// input maps a queue entry onto an FSM input.
func (tx *transaction) input(ev event) (fsm.Input, bool) {
	if ev.isTmr {
		var (
			in fsm.Input
			ok bool
		)
		if tx.kind.IsClient() {
			in, ok = clientTimerInputs[ev.timer]
		} else {
			in, ok = serverTimerInputs[ev.timer]
		}
		return in, ok
	}

	if ev.isFail {
		if tx.kind.IsClient() {
			return clientInputTransportErr, true
		}
		return serverInputTransportErr, true
	}

	switch msg := ev.msg.(type) {
	case *sip.Response:
		code := msg.StatusCode()
		if tx.kind.IsClient() {
			switch {
			case code < 200:
				return clientInput1xx, true
			case code < 300:
				return clientInput2xx, true
			default:
				return clientInput300Plus, true
			}
		}
		switch {
		case code < 200:
			return serverInputUser1xx, true
		case code < 300:
			return serverInputUser2xx, true
		default:
			return serverInputUser300Plus, true
		}
	case *sip.Request:
		if tx.kind.IsClient() {
			logger.Warnf("[%s] -> unexpected request %s", tx, msg.Short())
			return 0, false
		}
		if msg.IsAck() {
			return serverInputAck, true
		}
		return serverInputRequest, true
	}

	return 0, false
}

func (tx *transaction) apply(effects []effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case sendEffect:
			if e.retransmit {
				tx.env.opts.Metrics.Retransmission(tx.kind.String())
			}
			tx.send(e.msg)
		case passUpEffect:
			tx.toTU(sip.TUIncoming{
				Msg: sip.TransportMsg{Message: e.msg, Peer: tx.lastPeer, Transport: sip.DefaultProtocol},
				Key: tx.key,
			})
		case failEffect:
			if txErr, ok := e.err.(TxError); ok && txErr.Timeout() {
				tx.env.opts.Metrics.Timeout(tx.kind.String())
			}
			logger.Warnf("[%s] -> %s", tx, e.err)
			tx.toTU(sip.TUTransportError{Message: tx.m.request, Key: tx.key, Reason: e.err})
		case armEffect:
			tx.arm(e)
		}
	}
}

func (tx *transaction) send(msg sip.Message) {
	logger.Debugf("[%s] -> sending %s to %s", tx, msg.Short(), tx.peer)
	select {
	case <-tx.env.ctx.Done():
	case tx.env.transport <- sip.TransportOutgoing{Message: msg, Peer: tx.peer}:
	}
}

func (tx *transaction) toTU(ev sip.TUEvent) {
	select {
	case <-tx.env.ctx.Done():
	case tx.env.tu <- ev:
	}
}

// arm starts a timer whose callback only posts {timer, epoch} back into the
// queue.
func (tx *transaction) arm(e armEffect) {
	after := e.after
	if e.resume {
		deadline, ok := tx.deadlines[e.timer]
		if !ok {
			return
		}
		after = time.Until(deadline)
		if after < 0 {
			after = 0
		}
	} else {
		tx.deadlines[e.timer] = time.Now().Add(after)
	}

	if t, ok := tx.timers[e.timer]; ok {
		t.Stop()
	}

	ev := event{timer: e.timer, epoch: tx.epoch, isTmr: true}
	tx.timers[e.timer] = time.AfterFunc(after, func() {
		select {
		case tx.queue <- ev:
		case <-tx.exit:
		case <-tx.env.ctx.Done():
		}
	})
}

func (tx *transaction) stopTimers() {
	for id, t := range tx.timers {
		t.Stop()
		delete(tx.timers, id)
	}
}

func (tx *transaction) record() {
	req := tx.m.request
	branch := ""
	if via, ok := req.Via(); ok {
		branch = via.Branch()
	}
	toTag := req.ToTag()
	if tx.m.response != nil {
		toTag = tx.m.response.ToTag()
	}

	tx.env.opts.Recorder.Record(persist.Record{
		ID:        tx.recordID,
		Entity:    persist.EntityTransaction,
		CreatedAt: tx.created,
		UpdatedAt: time.Now(),
		BranchID:  branch,
		CallID:    req.CallID(),
		FromTag:   req.FromTag(),
		ToTag:     toTag,
		State:     tx.m.state.String(),
		Flow:      tx.kind.String(),
		DialogID:  tx.dialogID,
	})
}
