package sipcore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zenghr0820/sipcore/dialog"
	"github.com/zenghr0820/sipcore/processor"
	"github.com/zenghr0820/sipcore/sip"
	"github.com/zenghr0820/sipcore/transaction"
)

const wait = 3 * time.Second

func testTimings() transaction.Timings {
	return transaction.Timings{
		T1:           20 * time.Millisecond,
		T2:           80 * time.Millisecond,
		T4:           100 * time.Millisecond,
		D:            100 * time.Millisecond,
		Time1xx:      time.Second,
		DisposeGrace: 20 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, opts ...Option) Server {
	t.Helper()
	opts = append([]Option{
		ListenAddr("127.0.0.1:0"),
		Transport("127.0.0.1"),
		Timers(testTimings()),
	}, opts...)
	s, err := NewServer(opts...)
	require.NoError(t, err)
	return s
}

// final reads replies until the channel is closed and returns the last one.
func final(t *testing.T, replies <-chan dialog.Reply) dialog.Reply {
	t.Helper()
	var last dialog.Reply
	timeout := time.After(wait)
	for {
		select {
		case reply, ok := <-replies:
			if !ok {
				return last
			}
			last = reply
		case <-timeout:
			t.Fatal("no final reply")
			return last
		}
	}
}

func register(t *testing.T, ua, registrar Server, user string) dialog.Reply {
	t.Helper()
	aor := fmt.Sprintf("sip:%s@example.com", user)
	req := ua.CreateRequest(sip.REGISTER, "sip:example.com", aor, aor)
	req.SetHeader("Contact", fmt.Sprintf("<sip:%s@%s>;expires=120", user, ua.SentBy()))

	replies, err := ua.Request(context.Background(), req, registrar.SentBy())
	require.NoError(t, err)
	return final(t, replies)
}

func TestRegisterOverUDP(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := processor.NewMemoryStore()
	registrar := newTestServer(t, BindingStore(store))
	defer registrar.Close()
	ua := newTestServer(t)
	defer ua.Close()

	reply := register(t, ua, registrar, "alice")
	require.NoError(t, reply.Err)
	require.NotNil(t, reply.Response)
	assert.Equal(t, sip.StatusOK, reply.Response.StatusCode())
	contact, _ := reply.Response.GetHeader("Contact")
	assert.Equal(t, fmt.Sprintf("<sip:alice@%s>;expires=120", ua.SentBy()), contact)

	bindings, err := store.Bindings(context.Background(), "sip:alice@example.com")
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, fmt.Sprintf("sip:alice@%s", ua.SentBy()), bindings[0].Contact)

	// both ends keep a registration dialog
	d, ok := ua.Dialogs().Dialog(reply.DialogID)
	require.True(t, ok)
	assert.Equal(t, dialog.FlowRegistration, d.Flow())
	assert.Equal(t, dialog.StateConfirmed, d.State())
	assert.Eventually(t, func() bool {
		return registrar.Dialogs().HasDialog(reply.DialogID)
	}, wait, 10*time.Millisecond)
}

func TestOptionsOverUDP(t *testing.T) {
	defer goleak.VerifyNone(t)

	registrar := newTestServer(t)
	defer registrar.Close()
	ua := newTestServer(t, UserAgent("probe"))
	defer ua.Close()

	req := ua.CreateRequest(sip.OPTIONS, "sip:example.com", "sip:probe@example.com", "sip:example.com")
	replies, err := ua.Request(context.Background(), req, registrar.SentBy())
	require.NoError(t, err)
	reply := final(t, replies)
	require.NoError(t, reply.Err)
	assert.Equal(t, sip.StatusOK, reply.Response.StatusCode())

	allow, _ := reply.Response.GetHeader("Allow")
	for _, method := range []string{"ACK", "BYE", "CANCEL", "INVITE", "OPTIONS", "REGISTER"} {
		assert.Contains(t, allow, method)
	}
	ua2, _ := req.GetHeader("User-Agent")
	assert.Equal(t, "probe", ua2)
}

func TestProxyWithoutBinding(t *testing.T) {
	defer goleak.VerifyNone(t)

	proxy := newTestServer(t)
	defer proxy.Close()
	ua := newTestServer(t)
	defer ua.Close()

	req := ua.CreateRequest(sip.MESSAGE, "sip:nobody@example.com", "sip:alice@example.com", "sip:nobody@example.com")
	replies, err := ua.Request(context.Background(), req, proxy.SentBy())
	require.NoError(t, err)
	reply := final(t, replies)
	require.NoError(t, reply.Err)
	assert.Equal(t, sip.StatusNotFound, reply.Response.StatusCode())
}

func TestCallThroughProxy(t *testing.T) {
	defer goleak.VerifyNone(t)

	proxy := newTestServer(t)
	defer proxy.Close()

	var bobAddr string
	bob := newTestServer(t, AddProcessor(&processor.Func{
		Verbs: []sip.RequestMethod{sip.INVITE},
		Handler: func(_ context.Context, _ sip.RequestMethod, req *sip.Request) (processor.Result, error) {
			res := req.CreateResponse(sip.StatusOK)
			res.AddHeader("Contact", fmt.Sprintf("<sip:bob@%s>", bobAddr))
			return processor.Respond(res), nil
		},
	}))
	defer bob.Close()
	bobAddr = bob.SentBy()

	alice := newTestServer(t)
	defer alice.Close()

	require.Equal(t, sip.StatusOK, register(t, bob, proxy, "bob").Response.StatusCode())

	ctx := context.Background()
	invite := alice.CreateRequest(sip.INVITE, "sip:bob@example.com", "sip:alice@example.com", "sip:bob@example.com")
	replies, err := alice.Invite(ctx, invite, proxy.SentBy())
	require.NoError(t, err)
	reply := final(t, replies)
	require.NoError(t, reply.Err)
	require.Equal(t, sip.StatusOK, reply.Response.StatusCode())

	// the response came back through the proxy with its Via removed
	vias := reply.Response.GetHeaders("Via")
	require.Len(t, vias, 1)
	assert.True(t, strings.Contains(vias[0], alice.SentBy()))

	d, ok := alice.Dialogs().Dialog(reply.DialogID)
	require.True(t, ok)
	assert.Equal(t, dialog.StateConfirmed, d.State())
	assert.Equal(t, fmt.Sprintf("sip:bob@%s", bobAddr), d.RemoteTarget())

	// the ACK goes straight to bob
	assert.Eventually(t, func() bool {
		d, ok := bob.Dialogs().Dialog(reply.DialogID)
		return ok && d.State() == dialog.StateConfirmed
	}, wait, 10*time.Millisecond)
	assert.True(t, proxy.Dialogs().HasDialog(reply.DialogID))

	bye := d.CreateRequest(sip.BYE)
	replies, err = alice.Request(ctx, bye, "")
	require.NoError(t, err)
	reply = final(t, replies)
	require.NoError(t, reply.Err)
	assert.Equal(t, sip.StatusOK, reply.Response.StatusCode())
	assert.Equal(t, dialog.StateTerminated, d.State())
	assert.Eventually(t, func() bool {
		d, ok := bob.Dialogs().Dialog(reply.DialogID)
		return ok && d.State() == dialog.StateTerminated
	}, wait, 10*time.Millisecond)
}

func TestClosedServer(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	req := s.CreateRequest(sip.OPTIONS, "sip:example.com", "sip:a@example.com", "sip:example.com")
	_, err := s.Request(context.Background(), req, "127.0.0.1:5060")
	assert.ErrorIs(t, err, ErrServerClosed)
	assert.ErrorIs(t, s.Run(), ErrServerClosed)
}

func TestListenFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Close()

	_, err := NewServer(ListenAddr(s.LocalAddr().String()), Transport("127.0.0.1"))
	assert.Error(t, err)
}
