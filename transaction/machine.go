package transaction

import (
	"time"

	"github.com/discoviking/fsm"
	"github.com/pkg/errors"
	"github.com/zenghr0820/sipcore/sip"
)

// Effects are what a transition asks the owning goroutine to do. The machine
// itself never touches channels, timers or sockets.
type effect interface {
	isEffect()
}

type sendEffect struct {
	msg        sip.Message
	retransmit bool
}

type passUpEffect struct {
	msg sip.Message
}

type failEffect struct {
	err error
}

type armEffect struct {
	timer timerID
	after time.Duration
	// resume re-arms the timer at the deadline it was first armed with
	resume bool
}

func (sendEffect) isEffect()   {}
func (passUpEffect) isEffect() {}
func (failEffect) isEffect()   {}
func (armEffect) isEffect()    {}

// machine is the pure part of a transaction: state, retransmission interval
// and the FSM table. step maps (state, input) to (state', effects).
type machine struct {
	kind    Kind
	key     sip.TxKey
	timings Timings
	fsm     *fsm.FSM

	state    State
	request  *sip.Request
	response *sip.Response // last received (client) or last sent (server)
	ack      *sip.Request
	interval time.Duration

	// valid only while step runs
	input   sip.Message
	cause   error
	effects []effect
}

func newMachine(kind Kind, key sip.TxKey, req *sip.Request, timings Timings) (*machine, error) {
	m := &machine{
		kind:    kind,
		key:     key,
		timings: timings,
		request: req,
	}

	var err error
	switch kind {
	case UacInvite:
		err = m.defineClientInvite()
	case UacNonInvite:
		err = m.defineClientNonInvite()
	case UasInvite:
		err = m.defineServerInvite()
	case UasNonInvite:
		err = m.defineServerNonInvite()
	default:
		err = errors.Errorf("unknown transaction kind %d", kind)
	}
	if err != nil {
		return nil, err
	}

	return m, nil
}

// start returns the effects of entering the initial state.
func (m *machine) start() []effect {
	m.effects = nil
	switch m.kind {
	case UacInvite:
		m.state = StateCalling
		m.interval = m.timings.A()
		m.send(m.request, false)
		m.arm(timerA, m.interval)()
		m.arm(timerB, m.timings.B())()
	case UacNonInvite:
		m.state = StateTrying
		m.interval = m.timings.E()
		m.send(m.request, false)
		m.arm(timerE, m.interval)()
		m.arm(timerF, m.timings.F())()
	case UasInvite:
		m.state = StateProceeding
		m.effects = append(m.effects, passUpEffect{msg: m.request})
		m.arm(timer1xx, m.timings.Time1xx)()
	case UasNonInvite:
		m.state = StateTrying
		m.effects = append(m.effects, passUpEffect{msg: m.request})
	}

	out := m.effects
	m.effects = nil
	return out
}

// step feeds one input to the FSM.
func (m *machine) step(in fsm.Input, msg sip.Message, cause error) ([]effect, error) {
	m.input, m.cause, m.effects = msg, cause, nil
	err := m.fsm.Spin(in)
	out := m.effects
	m.input, m.cause, m.effects = nil, nil, nil

	return out, err
}

// to builds an outcome that moves to s and runs actions in order.
func (m *machine) to(s State, actions ...func()) fsm.Outcome {
	return fsm.Outcome{State: int(s), Action: func() fsm.Input {
		m.state = s
		for _, action := range actions {
			action()
		}
		return fsm.NO_ACTION()
	}}
}

// define completes every state with a stay-put outcome for inputs it does
// not list, so Spin never fails on a late or stale input. The first state in
// order is the initial one.
func (m *machine) define(table map[State]map[fsm.Input]fsm.Outcome, order []State, inputs []fsm.Input) error {
	defs := make([]fsm.State, 0, len(order))
	for _, s := range order {
		outcomes := table[s]
		if outcomes == nil {
			outcomes = make(map[fsm.Input]fsm.Outcome)
		}
		for _, in := range inputs {
			if _, ok := outcomes[in]; !ok {
				outcomes[in] = m.to(s)
			}
		}
		defs = append(defs, fsm.State{Index: int(s), Outcomes: outcomes})
	}

	f, err := fsm.Define(defs...)
	if err != nil {
		return errors.Wrapf(err, "define %s FSM", m.kind)
	}
	m.fsm = f

	return nil
}

func (m *machine) send(msg sip.Message, retransmit bool) {
	m.effects = append(m.effects, sendEffect{msg: msg, retransmit: retransmit})
}

// 往上层传递
func (m *machine) passUp() {
	m.effects = append(m.effects, passUpEffect{msg: m.input})
}

func (m *machine) recordResponse() {
	if res, ok := m.input.(*sip.Response); ok {
		m.response = res
	}
}

// sendResponse sends the response given by the TU and remembers it for
// retransmitted requests.
func (m *machine) sendResponse() {
	m.recordResponse()
	m.send(m.input, false)
}

func (m *machine) resendResponse() {
	if m.response != nil {
		m.send(m.response, true)
	}
}

func (m *machine) resendRequest() {
	m.send(m.request, true)
}

// sendAck acknowledges a non-2xx final response RFC 3261 - 17.1.1.3.
func (m *machine) sendAck() {
	if m.ack == nil {
		m.ack = sip.CreateAck(m.request, m.response)
		m.send(m.ack, false)
		return
	}
	m.send(m.ack, true)
}

// trying sends "100 Trying" unless the TU already answered RFC 3261 - 17.2.1.
func (m *machine) trying() {
	if m.response != nil {
		return
	}
	m.response = m.request.CreateResponse(sip.StatusTrying)
	m.send(m.response, false)
}

func (m *machine) arm(id timerID, after time.Duration) func() {
	return func() {
		m.effects = append(m.effects, armEffect{timer: id, after: after})
	}
}

func (m *machine) resume(id timerID) func() {
	return func() {
		m.effects = append(m.effects, armEffect{timer: id, resume: true})
	}
}

// backoff doubles the retransmission interval, optionally capped at T2,
// and re-arms the timer.
func (m *machine) backoff(id timerID, capped bool) func() {
	return func() {
		m.interval *= 2
		if capped && m.interval > m.timings.T2 {
			m.interval = m.timings.T2
		}
		m.effects = append(m.effects, armEffect{timer: id, after: m.interval})
	}
}

// restart sets the interval and arms a retransmission timer.
func (m *machine) restart(id timerID, interval time.Duration) func() {
	return func() {
		m.interval = interval
		m.effects = append(m.effects, armEffect{timer: id, after: interval})
	}
}

func (m *machine) timeout(id timerID) func() {
	return func() {
		m.effects = append(m.effects, failEffect{err: &TxTimeoutError{Err: ErrTimeout, TxKey: m.key, Timer: id.String()}})
	}
}

// 传输层异常
func (m *machine) transportErr() {
	m.effects = append(m.effects, failEffect{err: &TxTransportError{Err: m.cause, TxKey: m.key}})
}
