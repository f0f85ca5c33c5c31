package dialog

import (
	"fmt"

	"github.com/zenghr0820/sipcore/sip"
)

// Flow is the kind of exchange that created a dialog.
type Flow int

const (
	FlowInvite Flow = iota
	FlowRegistration
	FlowPublish
)

func (f Flow) String() string {
	switch f {
	case FlowInvite:
		return "invite"
	case FlowRegistration:
		return "registration"
	case FlowPublish:
		return "publish"
	default:
		return fmt.Sprintf("flow(%d)", int(f))
	}
}

// Role is our side of the dialog.
type Role int

const (
	RoleUAC Role = iota
	RoleUAS
	// RoleProxy marks dialogs we only relayed.
	RoleProxy
)

func (r Role) String() string {
	switch r {
	case RoleUAC:
		return "uac"
	case RoleUAS:
		return "uas"
	case RoleProxy:
		return "proxy"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// State of a dialog. StateUnacked is a UAS INVITE dialog whose 2xx has not
// been ACKed yet.
type State string

const (
	StateUnconfirmed State = "unconfirmed"
	StateEarly       State = "early"
	StateUnacked     State = "unacked"
	StateConfirmed   State = "confirmed"
	StateTerminated  State = "terminated"
	StateErrored     State = "errored"
)

// Live reports whether the state is not absorbing.
func (s State) Live() bool {
	return s != StateTerminated && s != StateErrored
}

// dialog FSM events
const (
	eventProvisional = "provisional"
	eventAccept      = "accept"
	eventAck         = "ack"
	eventTerminate   = "terminate"
	eventFail        = "fail"
)

// Outcome of routing an incoming message.
type Outcome int

const (
	NoDialog Outcome = iota
	RoutedExisting
	NewDialog
)

func (o Outcome) String() string {
	switch o {
	case NoDialog:
		return "no_dialog"
	case RoutedExisting:
		return "routed_existing"
	case NewDialog:
		return "new_dialog"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type EventKind int

const (
	EventDialogCreated EventKind = iota
	EventDialogState
	EventTimeout
	EventTransportError
	EventProcessorError
)

func (k EventKind) String() string {
	switch k {
	case EventDialogCreated:
		return "dialog_created"
	case EventDialogState:
		return "dialog_state"
	case EventTimeout:
		return "timeout"
	case EventTransportError:
		return "transport_error"
	case EventProcessorError:
		return "processor_error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is published on Layer.Events. Errors and timeouts always produce
// one.
type Event struct {
	Kind     EventKind
	DialogID sip.DialogID
	Flow     Flow
	State    State
	Key      sip.TxKey
	Message  sip.Message
	Err      error
}

func (ev Event) String() string {
	if ev.Err != nil {
		return fmt.Sprintf("dialog.Event<%s %s>: %s", ev.Kind, ev.Key, ev.Err)
	}
	return fmt.Sprintf("dialog.Event<%s %s %s>", ev.Kind, ev.DialogID, ev.State)
}

// Reply is delivered to callers of Request and Invite. The channel is
// closed after the final response or an error.
type Reply struct {
	Response *sip.Response
	// DialogID is set when the response created or matched a dialog.
	DialogID sip.DialogID
	Err      error
}
