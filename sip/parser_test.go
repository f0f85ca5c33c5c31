package sip

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawMessage(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

var inviteData = rawMessage(
	"INVITE sip:bob@biloxi.com SIP/2.0",
	"Via: SIP/2.0/UDP pc33.atlanta.com:5060;branch=z9hG4bK776asdhds, SIP/2.0/UDP proxy.atlanta.com;branch=z9hG4bKnashds8",
	"Max-Forwards: 70",
	`To: "Bob" <sip:bob@biloxi.com>`,
	"f: Alice <sip:alice@atlanta.com>;tag=1928301774",
	"i: a84b4c76e66710@pc33.atlanta.com",
	"CSeq: 314159 INVITE",
	"Contact: <sip:alice@pc33.atlanta.com>",
	"Content-Type: application/sdp",
	"Content-Length: 4",
	"",
	"v=0\r\n",
)

func TestParseRequest(t *testing.T) {
	msg, err := ParseMessage(inviteData)
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, INVITE, req.Method())
	assert.Equal(t, "sip:bob@biloxi.com", req.Recipient())
	assert.Equal(t, "a84b4c76e66710@pc33.atlanta.com", req.CallID())
	assert.Equal(t, "1928301774", req.FromTag())
	assert.Equal(t, "", req.ToTag())
	assert.Equal(t, "v=0\r", req.Body())

	vias := req.GetHeaders("Via")
	require.Len(t, vias, 2)
	hop, ok := req.Via()
	require.True(t, ok)
	assert.Equal(t, "z9hG4bK776asdhds", hop.Branch())
	assert.Equal(t, "pc33.atlanta.com:5060", hop.SentBy())
	assert.Equal(t, "UDP", hop.Transport)

	seq, method, ok := req.CSeq()
	require.True(t, ok)
	assert.Equal(t, uint32(314159), seq)
	assert.Equal(t, INVITE, method)
}

func TestParseResponse(t *testing.T) {
	msg, err := ParseMessage(rawMessage(
		"SIP/2.0 180 Ringing",
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds",
		"To: Bob <sip:bob@biloxi.com>;tag=a6c85cf",
		"From: Alice <sip:alice@atlanta.com>;tag=1928301774",
		"Call-ID: a84b4c76e66710",
		"CSeq: 314159 INVITE",
		"Content-Length: 0",
		"",
		"",
	))
	require.NoError(t, err)

	res, ok := msg.(*Response)
	require.True(t, ok)
	assert.Equal(t, StatusRinging, res.StatusCode())
	assert.Equal(t, "Ringing", res.Reason())
	assert.Equal(t, "a6c85cf", res.ToTag())
	assert.Equal(t, INVITE, res.Method())
	assert.True(t, res.IsProvisional())
	assert.False(t, res.IsFinal())
}

func TestParseErrors(t *testing.T) {
	cases := map[string]struct {
		data   []byte
		broken bool
	}{
		"garbage": {data: []byte("hello world"), broken: true},
		"bad start line": {
			data:   rawMessage("INVITE sip:bob@biloxi.com", "Via: x", "", ""),
			broken: true,
		},
		"missing call-id": {
			data: rawMessage(
				"OPTIONS sip:bob@biloxi.com SIP/2.0",
				"Via: SIP/2.0/UDP host;branch=z9hG4bK1",
				"From: <sip:a@b>;tag=1",
				"To: <sip:bob@biloxi.com>",
				"CSeq: 1 OPTIONS",
				"",
				"",
			),
		},
		"cseq mismatch": {
			data: rawMessage(
				"OPTIONS sip:bob@biloxi.com SIP/2.0",
				"Via: SIP/2.0/UDP host;branch=z9hG4bK1",
				"From: <sip:a@b>;tag=1",
				"To: <sip:bob@biloxi.com>",
				"Call-ID: 1",
				"CSeq: 1 INVITE",
				"",
				"",
			),
		},
		"short body": {
			data: rawMessage(
				"OPTIONS sip:bob@biloxi.com SIP/2.0",
				"Via: SIP/2.0/UDP host;branch=z9hG4bK1",
				"From: <sip:a@b>;tag=1",
				"To: <sip:bob@biloxi.com>",
				"Call-ID: 1",
				"CSeq: 1 OPTIONS",
				"Content-Length: 10",
				"",
				"abc",
			),
			broken: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage(tc.data)
			require.Error(t, err)
			assert.True(t, IsParseError(err))

			var msgErr MessageError
			require.ErrorAs(t, err, &msgErr)
			assert.Equal(t, tc.broken, msgErr.Broken())
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	msg, err := ParseMessage(inviteData)
	require.NoError(t, err)

	again, err := ParseMessage([]byte(msg.String()))
	require.NoError(t, err)
	assert.Equal(t, msg.StartLine(), again.StartLine())
	assert.Equal(t, msg.Headers(), again.Headers())
	assert.Equal(t, msg.Body(), again.Body())
}

func TestEnvelope(t *testing.T) {
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5070}
	tm, err := ParseEnvelope(Envelope{Data: inviteData, Peer: peer})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5070", tm.Peer)
	assert.Equal(t, DefaultProtocol, tm.Transport)

	env := NewEnvelope(tm.Message, peer)
	assert.Equal(t, peer, env.Peer)
	assert.True(t, strings.HasPrefix(string(env.Data), "INVITE sip:bob@biloxi.com SIP/2.0\r\n"))

	_, err = ParseEnvelope(Envelope{Data: []byte("junk"), Peer: peer})
	assert.True(t, IsParseError(err))
}
