package transaction

import (
	"time"

	"github.com/discoviking/fsm"
)

// RFC 3261 默认定时器
const (
	T1      = 500 * time.Millisecond
	T2      = 4 * time.Second
	T4      = 5 * time.Second
	TimeD   = 32 * time.Second
	Time1xx = 200 * time.Millisecond
)

// Timings holds the base timer values; the lettered timers derive from them.
// Tests shrink these to milliseconds.
type Timings struct {
	T1      time.Duration
	T2      time.Duration
	T4      time.Duration
	D       time.Duration
	Time1xx time.Duration
	// how long a terminated transaction stays in the table to absorb late
	// retransmissions
	DisposeGrace time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		T1:           T1,
		T2:           T2,
		T4:           T4,
		D:            TimeD,
		Time1xx:      Time1xx,
		DisposeGrace: T1,
	}
}

func (t Timings) A() time.Duration { return t.T1 }
func (t Timings) B() time.Duration { return 64 * t.T1 }
func (t Timings) E() time.Duration { return t.T1 }
func (t Timings) F() time.Duration { return 64 * t.T1 }
func (t Timings) G() time.Duration { return t.T1 }
func (t Timings) H() time.Duration { return 64 * t.T1 }
func (t Timings) I() time.Duration { return t.T4 }
func (t Timings) J() time.Duration { return 64 * t.T1 }
func (t Timings) K() time.Duration { return t.T4 }
func (t Timings) L() time.Duration { return 64 * t.T1 }
func (t Timings) M() time.Duration { return 64 * t.T1 }

// Kind is one of the four transaction machines.
type Kind int

const (
	UacInvite Kind = iota
	UacNonInvite
	UasInvite
	UasNonInvite
)

func (k Kind) String() string {
	switch k {
	case UacInvite:
		return "uac_invite"
	case UacNonInvite:
		return "uac_non_invite"
	case UasInvite:
		return "uas_invite"
	case UasNonInvite:
		return "uas_non_invite"
	default:
		return "unknown"
	}
}

func (k Kind) IsClient() bool {
	return k == UacInvite || k == UacNonInvite
}

// State of a transaction; the machines share one numbering.
type State int

// 事务状态机状态 FSM States
const (
	StateCalling State = iota
	StateTrying
	StateProceeding
	StateAccepted
	StateCompleted
	StateConfirmed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCalling:
		return "Calling"
	case StateTrying:
		return "Trying"
	case StateProceeding:
		return "Proceeding"
	case StateAccepted:
		return "Accepted"
	case StateCompleted:
		return "Completed"
	case StateConfirmed:
		return "Confirmed"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

type timerID int

const (
	timerA timerID = iota
	timerB
	timerD
	timerE
	timerF
	timerK
	timerM
	timerG
	timerH
	timerI
	timerJ
	timerL
	timer1xx
)

func (id timerID) String() string {
	return [...]string{"A", "B", "D", "E", "F", "K", "M", "G", "H", "I", "J", "L", "1xx"}[id]
}

// FSM Inputs
// 客户端状态机改变状态事件
const (
	clientInput1xx fsm.Input = iota
	clientInput2xx
	clientInput300Plus
	clientInputTimerA
	clientInputTimerB
	clientInputTimerD
	clientInputTimerE
	clientInputTimerF
	clientInputTimerK
	clientInputTimerM
	clientInputTransportErr
)

var clientInputs = []fsm.Input{
	clientInput1xx, clientInput2xx, clientInput300Plus,
	clientInputTimerA, clientInputTimerB, clientInputTimerD,
	clientInputTimerE, clientInputTimerF, clientInputTimerK, clientInputTimerM,
	clientInputTransportErr,
}

// 服务端状态机改变状态事件
const (
	serverInputRequest fsm.Input = iota
	serverInputAck
	serverInputUser1xx
	serverInputUser2xx
	serverInputUser300Plus
	serverInputTimerG
	serverInputTimerH
	serverInputTimerI
	serverInputTimerJ
	serverInputTimerL
	serverInputTimer1xx
	serverInputTransportErr
)

var serverInputs = []fsm.Input{
	serverInputRequest, serverInputAck,
	serverInputUser1xx, serverInputUser2xx, serverInputUser300Plus,
	serverInputTimerG, serverInputTimerH, serverInputTimerI,
	serverInputTimerJ, serverInputTimerL, serverInputTimer1xx,
	serverInputTransportErr,
}

var clientTimerInputs = map[timerID]fsm.Input{
	timerA: clientInputTimerA,
	timerB: clientInputTimerB,
	timerD: clientInputTimerD,
	timerE: clientInputTimerE,
	timerF: clientInputTimerF,
	timerK: clientInputTimerK,
	timerM: clientInputTimerM,
}

var serverTimerInputs = map[timerID]fsm.Input{
	timerG:   serverInputTimerG,
	timerH:   serverInputTimerH,
	timerI:   serverInputTimerI,
	timerJ:   serverInputTimerJ,
	timerL:   serverInputTimerL,
	timer1xx: serverInputTimer1xx,
}
