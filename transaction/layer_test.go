package transaction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenghr0820/sipcore/metrics"
	"github.com/zenghr0820/sipcore/persist"
	"github.com/zenghr0820/sipcore/sip"
	"go.uber.org/goleak"
)

const timeUnit = time.Millisecond

type stateRecorder struct {
	mu     sync.Mutex
	states map[string][]string
}

func (r *stateRecorder) Record(rec persist.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[string][]string)
	}
	r.states[rec.BranchID] = append(r.states[rec.BranchID], rec.State)
}

func (r *stateRecorder) of(branch string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states[branch]...)
}

type dialogSet struct {
	mu  sync.Mutex
	ids map[sip.DialogID]bool
}

func (d *dialogSet) add(id sip.DialogID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = true
}

func (d *dialogSet) HasDialog(id sip.DialogID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ids[id] || d.ids[id.Swap()]
}

type harness struct {
	Layer
	transport chan sip.TransportCommand
	tu        chan sip.TUEvent
	recorder  *stateRecorder
	metrics   *metrics.Metrics
	table     *Table
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		transport: make(chan sip.TransportCommand, 64),
		tu:        make(chan sip.TUEvent, 64),
		recorder:  &stateRecorder{},
		metrics:   metrics.New("test"),
		table:     NewTable(),
	}
	opts = append([]Option{
		Timers(testTimings()),
		Recorder(h.recorder),
		Metrics(h.metrics),
		TxTable(h.table),
	}, opts...)
	h.Layer = NewLayer(make(chan sip.TxCommand, 64), h.transport, h.tu, opts...)
	t.Cleanup(func() {
		h.Close()
		<-h.Done()
	})
	return h
}

func (h *harness) inbound(t *testing.T, msg sip.Message) {
	t.Helper()
	require.NoError(t, h.NotifyInbound(context.Background(), sip.TransportMsg{
		Message: msg, Peer: "127.0.0.1:5070", Transport: sip.DefaultProtocol,
	}))
}

func (h *harness) outbound(t *testing.T, msg sip.Message) sip.TxKey {
	t.Helper()
	key, err := h.SubmitOutbound(context.Background(), msg, "127.0.0.1:5070")
	require.NoError(t, err)
	return key
}

func (h *harness) nextSent(t *testing.T) sip.Message {
	t.Helper()
	select {
	case cmd := <-h.transport:
		out, ok := cmd.(sip.TransportOutgoing)
		require.True(t, ok)
		return out.Message
	case <-time.After(time.Second):
		t.Fatal("nothing sent")
		return nil
	}
}

func (h *harness) noneSent(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case cmd := <-h.transport:
		t.Fatalf("unexpected send %v", cmd)
	case <-time.After(wait):
	}
}

func (h *harness) nextTU(t *testing.T) sip.TUEvent {
	t.Helper()
	select {
	case ev := <-h.tu:
		return ev
	case <-time.After(time.Second):
		t.Fatal("nothing passed up")
		return nil
	}
}

func (h *harness) noneTU(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-h.tu:
		t.Fatalf("unexpected TU event %#v", ev)
	case <-time.After(wait):
	}
}

func TestRegisterRetransmission(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)

	req := request(t, sip.REGISTER, "z9hG4bKreg")
	h.inbound(t, req)

	ev := h.nextTU(t).(sip.TUIncoming)
	assert.Equal(t, req, ev.Msg.Message)
	key, err := MakeServerTxKey(req)
	require.NoError(t, err)
	assert.Equal(t, key, ev.Key)

	ok := req.CreateResponse(sip.StatusOK).WithToTag("srv")
	h.outbound(t, ok)
	first := h.nextSent(t)
	assert.Equal(t, ok.MessageID(), first.MessageID())

	// the retransmitted REGISTER gets the same 200 once, the TU sees nothing
	h.inbound(t, req)
	again := h.nextSent(t)
	assert.Equal(t, ok.MessageID(), again.MessageID())
	h.noneSent(t, 5*timeUnit)
	h.noneTU(t, 5*timeUnit)

	assert.Eventually(t, func() bool {
		states := h.recorder.of("z9hG4bKreg")
		return len(states) > 0 && states[len(states)-1] == "Terminated"
	}, time.Second, 5*timeUnit)
	assert.Equal(t, []string{"Trying", "Completed", "Terminated"}, h.recorder.of("z9hG4bKreg"))
	assert.Eventually(t, func() bool { return h.table.Len() == 0 }, time.Second, 5*timeUnit)

	h.Close()
	<-h.Done()
}

func TestTimerFTermination(t *testing.T) {
	h := newHarness(t)

	req := request(t, sip.OPTIONS, "z9hG4bKopt")
	key := h.outbound(t, req)

	sent := 0
	var failure sip.TUTransportError
wait:
	for {
		select {
		case <-h.transport:
			sent++
		case ev := <-h.tu:
			failure = ev.(sip.TUTransportError)
			break wait
		case <-time.After(2 * time.Second):
			t.Fatal("no timeout reported")
		}
	}

	assert.Equal(t, key, failure.Key)
	assert.ErrorIs(t, failure.Reason, ErrTimeout)
	var txErr TxError
	require.ErrorAs(t, failure.Reason, &txErr)
	assert.True(t, txErr.Timeout())
	assert.Greater(t, sent, 3, "request is retransmitted on timer E")

	// nothing after Terminated
	h.noneSent(t, 50*timeUnit)
}

func TestStaleTimerIgnored(t *testing.T) {
	timings := testTimings()
	timings.T1 = time.Second
	timings.T4 = time.Second
	h := newHarness(t, Timers(timings))

	req := request(t, sip.OPTIONS, "z9hG4bKstale")
	key := h.outbound(t, req)
	h.nextSent(t)

	h.inbound(t, req.CreateResponse(sip.StatusOK).WithToTag("srv"))
	h.nextTU(t)
	assert.Eventually(t, func() bool { return len(h.recorder.of("z9hG4bKstale")) == 2 }, time.Second, 2*timeUnit)

	tx, ok := h.table.Get(key)
	require.True(t, ok)
	// both timers were armed in Trying; Completed runs under a newer epoch
	require.True(t, tx.enqueue(event{isTmr: true, timer: timerE, epoch: 0}))
	require.True(t, tx.enqueue(event{isTmr: true, timer: timerK, epoch: 0}))

	h.noneSent(t, 30*timeUnit)
	h.noneTU(t, 5*timeUnit)
	assert.Equal(t, []string{"Trying", "Completed"}, h.recorder.of("z9hG4bKstale"))
	assert.True(t, h.table.Has(key))
}

func TestTimerFKeepsDeadline(t *testing.T) {
	h := newHarness(t)
	deadline := testTimings().F()

	req := request(t, sip.OPTIONS, "z9hG4bKresume")
	start := time.Now()
	key := h.outbound(t, req)

	// Trying -> Proceeding halfway to Timer F
	time.Sleep(deadline / 2)
	h.inbound(t, req.CreateResponse(sip.StatusTrying))

	var failure sip.TUTransportError
	timeout := time.After(2 * time.Second)
wait:
	for {
		select {
		case <-h.transport:
		case ev := <-h.tu:
			if f, ok := ev.(sip.TUTransportError); ok {
				failure = f
				break wait
			}
		case <-timeout:
			t.Fatal("no timeout reported")
		}
	}

	elapsed := time.Since(start)
	assert.Equal(t, key, failure.Key)
	assert.ErrorIs(t, failure.Reason, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, deadline+deadline/3, "Timer F restarted on Proceeding")
	assert.Contains(t, h.recorder.of("z9hG4bKresume"), "Proceeding")
}

func TestUnmatchedResponse(t *testing.T) {
	h := newHarness(t)

	req := request(t, sip.OPTIONS, "z9hG4bKnobody")
	h.inbound(t, req.CreateResponse(sip.StatusOK))

	h.noneTU(t, 20*timeUnit)
	assert.Equal(t, 0, h.table.Len())
	found, err := h.HasTransaction(context.Background(), "client__z9hG4bKnobody__OPTIONS")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAckForNon2xx(t *testing.T) {
	h := newHarness(t)

	invite := request(t, sip.INVITE, "z9hG4bKack")
	h.inbound(t, invite)
	h.nextTU(t)

	busy := invite.CreateResponse(sip.StatusBusyHere).WithToTag("t1")
	h.outbound(t, busy)
	assert.Equal(t, busy.MessageID(), h.nextSent(t).MessageID())

	ack := sip.CreateAck(invite, busy)
	h.inbound(t, ack)
	h.noneTU(t, 5*timeUnit)

	assert.Eventually(t, func() bool {
		states := h.recorder.of("z9hG4bKack")
		return len(states) >= 3 && states[2] == "Confirmed"
	}, time.Second, 2*timeUnit)
	assert.Equal(t, []string{"Proceeding", "Completed", "Confirmed"}, h.recorder.of("z9hG4bKack")[:3])
}

func TestClientInviteScenario(t *testing.T) {
	h := newHarness(t)

	invite := request(t, sip.INVITE, "z9hG4bKcall")
	key := h.outbound(t, invite)
	assert.Equal(t, invite.MessageID(), h.nextSent(t).MessageID())

	ringing := invite.CreateResponse(sip.StatusRinging).WithToTag("callee")
	h.inbound(t, ringing)
	assert.Equal(t, ringing, h.nextTU(t).(sip.TUIncoming).Msg.Message)

	ok := invite.CreateResponse(sip.StatusOK).WithToTag("callee")
	h.inbound(t, ok)
	up := h.nextTU(t).(sip.TUIncoming)
	assert.Equal(t, ok, up.Msg.Message)
	assert.Equal(t, key, up.Key)

	assert.Eventually(t, func() bool { return len(h.recorder.of("z9hG4bKcall")) == 3 }, time.Second, 2*timeUnit)
	assert.Equal(t, []string{"Calling", "Proceeding", "Accepted"}, h.recorder.of("z9hG4bKcall"))

	// the transaction sends no ACK for a 2xx; the TU's ACK bypasses it
	ack := sip.NewRequest(sip.ACK, invite.Recipient(), []sip.Header{
		{Name: "Via", Value: "SIP/2.0/UDP pc33.atlanta.com;branch=" + sip.GenerateBranch()},
		{Name: "From", Value: "Alice <sip:alice@atlanta.com>;tag=1928301774"},
		{Name: "To", Value: "Bob <sip:bob@biloxi.com>;tag=callee"},
		{Name: "Call-ID", Value: invite.CallID()},
		{Name: "CSeq", Value: "1 ACK"},
	}, "")
	ackKey := h.outbound(t, ack)
	assert.Empty(t, ackKey)
	assert.Equal(t, ack.MessageID(), h.nextSent(t).MessageID())
	assert.Equal(t, 1, h.table.Len())
}

func TestAckWithoutTransaction(t *testing.T) {
	dialogs := &dialogSet{ids: make(map[sip.DialogID]bool)}
	h := newHarness(t, Dialogs(dialogs))

	invite := request(t, sip.INVITE, "z9hG4bKx")
	ok := invite.CreateResponse(sip.StatusOK).WithToTag("callee")
	ack := sip.CreateAck(invite, ok)
	ack.RemoveTopVia()
	ack.AddHeader("Via", "SIP/2.0/UDP pc33.atlanta.com;branch="+sip.GenerateBranch())

	// unknown dialog: dropped
	h.inbound(t, ack)
	h.noneTU(t, 10*timeUnit)

	dialogs.add(sip.MakeDialogID(ack))
	h.inbound(t, ack)
	up := h.nextTU(t).(sip.TUIncoming)
	assert.Empty(t, up.Key)
	assert.Equal(t, ack, up.Msg.Message)
}

func TestCancelWithoutInvite(t *testing.T) {
	h := newHarness(t)

	cancel := request(t, sip.CANCEL, "z9hG4bKlost")
	h.inbound(t, cancel)

	res := h.nextSent(t).(*sip.Response)
	assert.Equal(t, sip.StatusCallTransactionDoesNotExist, res.StatusCode())
	h.noneTU(t, 5*timeUnit)
}

func TestTransportErrorTerminates(t *testing.T) {
	h := newHarness(t)

	req := request(t, sip.MESSAGE, "z9hG4bKfail")
	key := h.outbound(t, req)
	h.nextSent(t)

	h.Mailbox() <- sip.TxTransportError{Message: req, Peer: "127.0.0.1:5070", Reason: assert.AnError}
	ev := h.nextTU(t).(sip.TUTransportError)
	assert.Equal(t, key, ev.Key)
	var txErr TxError
	require.ErrorAs(t, ev.Reason, &txErr)
	assert.True(t, txErr.Transport())
	assert.ErrorIs(t, ev.Reason, assert.AnError)
}

func TestClosedLayer(t *testing.T) {
	h := newHarness(t)
	h.Close()
	<-h.Done()

	_, err := h.SubmitOutbound(context.Background(), request(t, sip.OPTIONS, "z9hG4bKc"), "127.0.0.1:5070")
	assert.ErrorIs(t, err, ErrLayerClosed)
}
