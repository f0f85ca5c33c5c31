package transaction

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenghr0820/sipcore/sip"
)

func request(t *testing.T, method sip.RequestMethod, branch string) *sip.Request {
	t.Helper()
	data := strings.Join([]string{
		fmt.Sprintf("%s sip:bob@biloxi.com SIP/2.0", method),
		"Via: SIP/2.0/UDP pc33.atlanta.com:5060;branch=" + branch,
		"Max-Forwards: 70",
		"To: Bob <sip:bob@biloxi.com>",
		"From: Alice <sip:alice@atlanta.com>;tag=1928301774",
		"Call-ID: a84b4c76e66710@pc33.atlanta.com",
		fmt.Sprintf("CSeq: 1 %s", method),
		"Contact: <sip:alice@pc33.atlanta.com>",
		"Content-Length: 0",
		"",
		"",
	}, "\r\n")
	msg, err := sip.ParseMessage([]byte(data))
	require.NoError(t, err)
	return msg.(*sip.Request)
}

func testTimings() Timings {
	return Timings{
		T1:           10 * timeUnit,
		T2:           40 * timeUnit,
		T4:           50 * timeUnit,
		D:            50 * timeUnit,
		Time1xx:      1000 * timeUnit,
		DisposeGrace: 10 * timeUnit,
	}
}

func newTestMachine(t *testing.T, kind Kind, req *sip.Request) *machine {
	t.Helper()
	m, err := newMachine(kind, "key", req, testTimings())
	require.NoError(t, err)
	return m
}

func sends(effects []effect) []sendEffect {
	var out []sendEffect
	for _, e := range effects {
		if s, ok := e.(sendEffect); ok {
			out = append(out, s)
		}
	}
	return out
}

func has[T effect](effects []effect) bool {
	for _, e := range effects {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func arms(effects []effect) map[timerID]armEffect {
	out := make(map[timerID]armEffect)
	for _, e := range effects {
		if a, ok := e.(armEffect); ok {
			out[a.timer] = a
		}
	}
	return out
}

func TestClientInviteMachine(t *testing.T) {
	req := request(t, sip.INVITE, "z9hG4bKinv1")
	m := newTestMachine(t, UacInvite, req)

	effects := m.start()
	assert.Equal(t, StateCalling, m.state)
	require.Len(t, sends(effects), 1)
	assert.Contains(t, arms(effects), timerA)
	assert.Contains(t, arms(effects), timerB)

	// Timer A doubles without cap
	effects, err := m.step(clientInputTimerA, nil, nil)
	require.NoError(t, err)
	assert.True(t, sends(effects)[0].retransmit)
	assert.Equal(t, 20*timeUnit, arms(effects)[timerA].after)

	effects, err = m.step(clientInput1xx, req.CreateResponse(sip.StatusRinging), nil)
	require.NoError(t, err)
	assert.Equal(t, StateProceeding, m.state)
	assert.True(t, has[passUpEffect](effects))

	effects, err = m.step(clientInput2xx, req.CreateResponse(sip.StatusOK).WithToTag("b"), nil)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, m.state)
	assert.True(t, has[passUpEffect](effects))
	assert.Empty(t, sends(effects), "2xx must not be acknowledged by the transaction")
	assert.Contains(t, arms(effects), timerM)

	effects, err = m.step(clientInputTimerM, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.state)
	assert.Empty(t, effects)
}

func TestClientInviteNon2xx(t *testing.T) {
	req := request(t, sip.INVITE, "z9hG4bKinv2")
	m := newTestMachine(t, UacInvite, req)
	m.start()

	busy := req.CreateResponse(sip.StatusBusyHere).WithToTag("b")
	effects, err := m.step(clientInput300Plus, busy, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, m.state)
	require.Len(t, sends(effects), 1)
	ack := sends(effects)[0].msg.(*sip.Request)
	assert.Equal(t, sip.ACK, ack.Method())
	assert.Equal(t, "b", ack.ToTag())
	assert.Equal(t, m.timings.D, arms(effects)[timerD].after)

	// retransmitted final: same ACK again, nothing passed up
	effects, err = m.step(clientInput300Plus, busy, nil)
	require.NoError(t, err)
	require.Len(t, sends(effects), 1)
	assert.Same(t, ack, sends(effects)[0].msg)
	assert.False(t, has[passUpEffect](effects))

	_, err = m.step(clientInputTimerD, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.state)
}

func TestClientNonInviteMachine(t *testing.T) {
	req := request(t, sip.OPTIONS, "z9hG4bKopt1")
	m := newTestMachine(t, UacNonInvite, req)
	m.start()
	assert.Equal(t, StateTrying, m.state)

	// E doubles, capped at T2
	var last armEffect
	for i := 0; i < 4; i++ {
		effects, err := m.step(clientInputTimerE, nil, nil)
		require.NoError(t, err)
		last = arms(effects)[timerE]
	}
	assert.Equal(t, m.timings.T2, last.after)

	effects, err := m.step(clientInput1xx, req.CreateResponse(sip.StatusTrying), nil)
	require.NoError(t, err)
	assert.Equal(t, StateProceeding, m.state)
	assert.Equal(t, m.timings.T2, arms(effects)[timerE].after)
	assert.True(t, arms(effects)[timerF].resume)

	effects, err = m.step(clientInputTimerF, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.state)
	require.True(t, has[failEffect](effects))
	var fail failEffect
	for _, e := range effects {
		if f, ok := e.(failEffect); ok {
			fail = f
		}
	}
	assert.ErrorIs(t, fail.err, ErrTimeout)

	// terminated is absorbing
	effects, err = m.step(clientInput2xx, req.CreateResponse(sip.StatusOK), nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.state)
	assert.Empty(t, effects)
}

func TestServerNonInviteMachine(t *testing.T) {
	req := request(t, sip.REGISTER, "z9hG4bKreg1")
	m := newTestMachine(t, UasNonInvite, req)

	effects := m.start()
	assert.Equal(t, StateTrying, m.state)
	assert.True(t, has[passUpEffect](effects))

	// retransmission before any response is absorbed
	effects, err := m.step(serverInputRequest, req, nil)
	require.NoError(t, err)
	assert.Empty(t, effects)

	ok := req.CreateResponse(sip.StatusOK).WithToTag("x")
	effects, err = m.step(serverInputUser2xx, ok, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, m.state)
	assert.Equal(t, m.timings.J(), arms(effects)[timerJ].after)

	effects, err = m.step(serverInputRequest, req, nil)
	require.NoError(t, err)
	require.Len(t, sends(effects), 1)
	assert.Same(t, ok, sends(effects)[0].msg, "last response is re-sent verbatim")

	_, err = m.step(serverInputTimerJ, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.state)
}

func TestServerInviteMachine(t *testing.T) {
	req := request(t, sip.INVITE, "z9hG4bKinv3")
	m := newTestMachine(t, UasInvite, req)
	effects := m.start()
	assert.Equal(t, StateProceeding, m.state)
	assert.Contains(t, arms(effects), timer1xx)

	effects, err := m.step(serverInputTimer1xx, nil, nil)
	require.NoError(t, err)
	require.Len(t, sends(effects), 1)
	assert.Equal(t, sip.StatusTrying, sends(effects)[0].msg.(*sip.Response).StatusCode())

	effects, err = m.step(serverInputUser300Plus, req.CreateResponse(sip.StatusBusyHere).WithToTag("t"), nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, m.state)
	assert.Contains(t, arms(effects), timerG)
	assert.Contains(t, arms(effects), timerH)

	effects, err = m.step(serverInputTimerG, nil, nil)
	require.NoError(t, err)
	assert.True(t, sends(effects)[0].retransmit)
	assert.Equal(t, 20*timeUnit, arms(effects)[timerG].after)

	effects, err = m.step(serverInputAck, req, nil)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, m.state)
	assert.Equal(t, m.timings.I(), arms(effects)[timerI].after)
	assert.False(t, has[passUpEffect](effects))

	_, err = m.step(serverInputTimerI, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.state)
}

func TestServerInviteAccepted(t *testing.T) {
	req := request(t, sip.INVITE, "z9hG4bKinv4")
	m := newTestMachine(t, UasInvite, req)
	m.start()

	ok := req.CreateResponse(sip.StatusOK).WithToTag("t")
	effects, err := m.step(serverInputUser2xx, ok, nil)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, m.state)
	assert.Contains(t, arms(effects), timerL)

	// a retransmitted INVITE is absorbed, the TU re-sends 2xx itself
	effects, err = m.step(serverInputRequest, req, nil)
	require.NoError(t, err)
	assert.Empty(t, effects)

	_, err = m.step(serverInputTimerL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.state)
}
