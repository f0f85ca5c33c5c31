package transaction

import (
	"github.com/discoviking/fsm"
)

// INVITE server transaction RFC 3261 - 17.2.1, with the Accepted state of
// RFC 6026.
func (m *machine) defineServerInvite() error {
	return m.define(map[State]map[fsm.Input]fsm.Outcome{
		// Proceeding
		StateProceeding: {
			serverInputRequest:      m.to(StateProceeding, m.resendResponse),
			serverInputUser1xx:      m.to(StateProceeding, m.sendResponse),
			serverInputUser2xx:      m.to(StateAccepted, m.sendResponse, m.arm(timerL, m.timings.L())),
			serverInputUser300Plus:  m.to(StateCompleted, m.sendResponse, m.restart(timerG, m.timings.G()), m.arm(timerH, m.timings.H())),
			serverInputTimer1xx:     m.to(StateProceeding, m.trying),
			serverInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Accepted: the TU re-sends its 2xx until the ACK arrives end-to-end
		StateAccepted: {
			serverInputUser2xx:      m.to(StateAccepted, m.sendResponse),
			serverInputTimerL:       m.to(StateTerminated),
			serverInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Completed: retransmit the final response until ACK or Timer H
		StateCompleted: {
			serverInputRequest:      m.to(StateCompleted, m.resendResponse),
			serverInputAck:          m.to(StateConfirmed, m.arm(timerI, m.timings.I())),
			serverInputTimerG:       m.to(StateCompleted, m.resendResponse, m.backoff(timerG, true)),
			serverInputTimerH:       m.to(StateTerminated, m.timeout(timerH)),
			serverInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Confirmed: absorb ACK retransmissions
		StateConfirmed: {
			serverInputTimerI: m.to(StateTerminated),
		},
		StateTerminated: {},
	}, []State{StateProceeding, StateAccepted, StateCompleted, StateConfirmed, StateTerminated}, serverInputs)
}

// non-INVITE server transaction RFC 3261 - 17.2.2. It never retransmits on
// its own; a repeated request gets the last response again.
func (m *machine) defineServerNonInvite() error {
	final := []func(){m.sendResponse, m.arm(timerJ, m.timings.J())}

	return m.define(map[State]map[fsm.Input]fsm.Outcome{
		// Trying
		StateTrying: {
			serverInputUser1xx:      m.to(StateProceeding, m.sendResponse),
			serverInputUser2xx:      m.to(StateCompleted, final...),
			serverInputUser300Plus:  m.to(StateCompleted, final...),
			serverInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Proceeding
		StateProceeding: {
			serverInputRequest:      m.to(StateProceeding, m.resendResponse),
			serverInputUser1xx:      m.to(StateProceeding, m.sendResponse),
			serverInputUser2xx:      m.to(StateCompleted, final...),
			serverInputUser300Plus:  m.to(StateCompleted, final...),
			serverInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Completed
		StateCompleted: {
			serverInputRequest:      m.to(StateCompleted, m.resendResponse),
			serverInputTimerJ:       m.to(StateTerminated),
			serverInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		StateTerminated: {},
	}, []State{StateTrying, StateProceeding, StateCompleted, StateTerminated}, serverInputs)
}
