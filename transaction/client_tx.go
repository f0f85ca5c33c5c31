package transaction

import (
	"github.com/discoviking/fsm"
)

// INVITE client transaction RFC 3261 - 17.1.1, with the Accepted state of
// RFC 6026: a 2xx is passed up and never acknowledged here.
func (m *machine) defineClientInvite() error {
	final := []func(){m.recordResponse, m.passUp, m.sendAck, m.arm(timerD, m.timings.D)}

	return m.define(map[State]map[fsm.Input]fsm.Outcome{
		// Calling
		StateCalling: {
			clientInput1xx:          m.to(StateProceeding, m.passUp),
			clientInput2xx:          m.to(StateAccepted, m.passUp, m.arm(timerM, m.timings.M())),
			clientInput300Plus:      m.to(StateCompleted, final...),
			clientInputTimerA:       m.to(StateCalling, m.resendRequest, m.backoff(timerA, false)),
			clientInputTimerB:       m.to(StateTerminated, m.timeout(timerB)),
			clientInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Proceeding
		StateProceeding: {
			clientInput1xx:          m.to(StateProceeding, m.passUp),
			clientInput2xx:          m.to(StateAccepted, m.passUp, m.arm(timerM, m.timings.M())),
			clientInput300Plus:      m.to(StateCompleted, final...),
			clientInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Accepted: further 2xx go up so the TU can re-send its ACK
		StateAccepted: {
			clientInput2xx:    m.to(StateAccepted, m.passUp),
			clientInputTimerM: m.to(StateTerminated),
		},
		// Completed: absorb retransmitted finals with a fresh ACK
		StateCompleted: {
			clientInput300Plus:      m.to(StateCompleted, m.sendAck),
			clientInputTimerD:       m.to(StateTerminated),
			clientInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		StateTerminated: {},
	}, []State{StateCalling, StateProceeding, StateAccepted, StateCompleted, StateTerminated}, clientInputs)
}

// non-INVITE client transaction RFC 3261 - 17.1.2.
func (m *machine) defineClientNonInvite() error {
	final := []func(){m.recordResponse, m.passUp, m.arm(timerK, m.timings.K())}

	return m.define(map[State]map[fsm.Input]fsm.Outcome{
		// Trying
		StateTrying: {
			clientInput1xx:          m.to(StateProceeding, m.passUp, m.restart(timerE, m.timings.T2), m.resume(timerF)),
			clientInput2xx:          m.to(StateCompleted, final...),
			clientInput300Plus:      m.to(StateCompleted, final...),
			clientInputTimerE:       m.to(StateTrying, m.resendRequest, m.backoff(timerE, true)),
			clientInputTimerF:       m.to(StateTerminated, m.timeout(timerF)),
			clientInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Proceeding: retransmit every T2 until a final response or Timer F
		StateProceeding: {
			clientInput1xx:          m.to(StateProceeding, m.passUp),
			clientInput2xx:          m.to(StateCompleted, final...),
			clientInput300Plus:      m.to(StateCompleted, final...),
			clientInputTimerE:       m.to(StateProceeding, m.resendRequest, m.restart(timerE, m.timings.T2)),
			clientInputTimerF:       m.to(StateTerminated, m.timeout(timerF)),
			clientInputTransportErr: m.to(StateTerminated, m.transportErr),
		},
		// Completed: buffer response retransmissions for Timer K
		StateCompleted: {
			clientInputTimerK: m.to(StateTerminated),
		},
		StateTerminated: {},
	}, []State{StateTrying, StateProceeding, StateCompleted, StateTerminated}, clientInputs)
}
