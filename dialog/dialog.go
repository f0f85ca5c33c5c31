package dialog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	"github.com/zenghr0820/sipcore/persist"
	"github.com/zenghr0820/sipcore/sip"
)

// Dialog is a peer-to-peer relationship between two user agents, RFC 3261 - 12.
// The state machine is driven by the TU loop only; getters are safe from any
// goroutine.
type Dialog struct {
	id       sip.DialogID
	role     Role
	flow     Flow
	recordID string
	created  time.Time
	sentBy   string

	fsm      *fsm.FSM
	localSeq *atomic.Uint32

	mu           sync.RWMutex
	updated      time.Time
	remoteSeq    uint32
	remoteTarget string
	direct       bool
	peer         string
	local        string
	remote       string
	txKeys       []sip.TxKey
	expires      time.Time

	// owned by the TU loop
	regKey string
}

// dialogSpec carries what is known about a dialog when it is created.
type dialogSpec struct {
	id     sip.DialogID
	role   Role
	flow   Flow
	sentBy string
	// local and remote are the From/To values as seen from our side.
	local        string
	remote       string
	remoteTarget string
	// direct is set when remoteTarget came from a Contact.
	direct    bool
	peer      string
	localSeq  uint32
	remoteSeq uint32
}

func newDialog(spec dialogSpec, onState func(d *Dialog, from, to State)) *Dialog {
	now := time.Now()
	d := &Dialog{
		id:           spec.id,
		role:         spec.role,
		flow:         spec.flow,
		recordID:     persist.NewRecordID(),
		created:      now,
		updated:      now,
		sentBy:       spec.sentBy,
		localSeq:     atomic.NewUint32(spec.localSeq),
		remoteSeq:    spec.remoteSeq,
		remoteTarget: spec.remoteTarget,
		direct:       spec.direct,
		peer:         spec.peer,
		local:        spec.local,
		remote:       spec.remote,
	}

	initial := StateUnconfirmed
	if spec.flow != FlowInvite {
		initial = StateConfirmed
	}
	accepted := StateConfirmed
	if spec.role == RoleUAS {
		accepted = StateUnacked
	}
	live := []string{
		string(StateUnconfirmed),
		string(StateEarly),
		string(StateUnacked),
		string(StateConfirmed),
	}

	d.fsm = fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: eventProvisional, Src: []string{string(StateUnconfirmed)}, Dst: string(StateEarly)},
			{Name: eventAccept, Src: []string{string(StateUnconfirmed), string(StateEarly)}, Dst: string(accepted)},
			{Name: eventAck, Src: []string{string(StateUnacked)}, Dst: string(StateConfirmed)},
			{Name: eventTerminate, Src: live, Dst: string(StateTerminated)},
			{Name: eventFail, Src: live, Dst: string(StateErrored)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.touch()
				if onState != nil {
					onState(d, State(e.Src), State(e.Dst))
				}
			},
		},
	)

	return d
}

func (d *Dialog) String() string {
	return fmt.Sprintf("dialog.%s<%s>", d.role, d.id)
}

func (d *Dialog) ID() sip.DialogID {
	return d.id
}

func (d *Dialog) Role() Role {
	return d.role
}

func (d *Dialog) Flow() Flow {
	return d.flow
}

func (d *Dialog) State() State {
	return State(d.fsm.Current())
}

// Proxied reports whether we only relayed the exchange that created the
// dialog.
func (d *Dialog) Proxied() bool {
	return d.role == RoleProxy
}

func (d *Dialog) CreatedAt() time.Time {
	return d.created
}

func (d *Dialog) UpdatedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updated
}

// Expires is zero for dialogs without a lifetime.
func (d *Dialog) Expires() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.expires
}

func (d *Dialog) RemoteTarget() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.remoteTarget
}

func (d *Dialog) LocalSeq() uint32 {
	return d.localSeq.Load()
}

func (d *Dialog) RemoteSeq() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.remoteSeq
}

// TxKeys returns the keys of the transactions seen inside the dialog.
func (d *Dialog) TxKeys() []sip.TxKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]sip.TxKey, len(d.txKeys))
	copy(keys, d.txKeys)
	return keys
}

// CreateRequest builds the next request inside the dialog RFC 3261 - 12.2.1.1.
// The local CSeq is incremented on every call.
func (d *Dialog) CreateRequest(method sip.RequestMethod) *sip.Request {
	seq := d.localSeq.Inc()

	d.mu.RLock()
	defer d.mu.RUnlock()

	hdrs := []sip.Header{
		{Name: "Via", Value: fmt.Sprintf("%s/%s %s;branch=%s;rport", sip.SipVersion, sip.DefaultProtocol, d.sentBy, sip.GenerateBranch())},
		{Name: "Max-Forwards", Value: "70"},
		{Name: "From", Value: d.local},
		{Name: "To", Value: d.remote},
		{Name: "Call-ID", Value: d.id.CallID},
		{Name: "CSeq", Value: fmt.Sprintf("%d %s", seq, method)},
	}

	return sip.NewRequest(method, d.remoteTarget, hdrs, "")
}

// record returns the persisted snapshot for state.
func (d *Dialog) record(state State) persist.Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return persist.Record{
		ID:        d.recordID,
		Entity:    persist.EntityDialog,
		CreatedAt: d.created,
		UpdatedAt: d.updated,
		CallID:    d.id.CallID,
		FromTag:   d.id.FromTag,
		ToTag:     d.id.ToTag,
		State:     string(state),
		Flow:      d.flow.String(),
		DialogID:  d.id.String(),
	}
}

func (d *Dialog) touch() {
	d.mu.Lock()
	d.updated = time.Now()
	d.mu.Unlock()
}

func (d *Dialog) addTx(key sip.TxKey) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range d.txKeys {
		if k == key {
			return
		}
	}
	d.txKeys = append(d.txKeys, key)
}

func (d *Dialog) setExpires(at time.Time) {
	d.mu.Lock()
	d.expires = at
	d.updated = time.Now()
	d.mu.Unlock()
}

func (d *Dialog) setRemoteTarget(target string) {
	if target == "" {
		return
	}
	d.mu.Lock()
	d.remoteTarget = target
	d.direct = true
	d.mu.Unlock()
}

// acceptSeq checks the CSeq of an in-dialog request RFC 3261 - 12.2.2.
// Lower sequence numbers are out of order.
func (d *Dialog) acceptSeq(req *sip.Request) bool {
	seq, _, ok := req.CSeq()
	if !ok {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remoteSeq != 0 && seq < d.remoteSeq {
		return false
	}
	d.remoteSeq = seq
	d.updated = time.Now()
	return true
}

// targetPeer is the peer for requests inside the dialog. Empty means the
// Request-URI (a learned Contact) decides.
func (d *Dialog) targetPeer() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.direct {
		return ""
	}
	return d.peer
}
