package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenghr0820/sipcore/sip"
)

func TestTxKeys(t *testing.T) {
	invite := request(t, sip.INVITE, "z9hG4bKk1")
	ack := request(t, sip.ACK, "z9hG4bKk1")
	cancel := request(t, sip.CANCEL, "z9hG4bKk1")

	inviteKey, err := MakeServerTxKey(invite)
	require.NoError(t, err)
	ackKey, err := MakeServerTxKey(ack)
	require.NoError(t, err)
	assert.Equal(t, inviteKey, ackKey, "ACK folds onto its INVITE")

	cancelKey, err := MakeServerTxKey(cancel)
	require.NoError(t, err)
	assert.NotEqual(t, inviteKey, cancelKey, "CANCEL is a transaction of its own")

	target, err := CancelTargetKey(cancel)
	require.NoError(t, err)
	assert.Equal(t, inviteKey, target)

	clientKey, err := MakeClientTxKey(invite)
	require.NoError(t, err)
	assert.NotEqual(t, inviteKey, clientKey, "direction is part of the key")

	resKey, err := MakeClientTxKey(invite.CreateResponse(sip.StatusOK))
	require.NoError(t, err)
	assert.Equal(t, clientKey, resKey)

	srvResKey, err := MakeServerTxKey(invite.CreateResponse(sip.StatusOK))
	require.NoError(t, err)
	assert.Equal(t, inviteKey, srvResKey)
}

func TestTxKeyRFC2543(t *testing.T) {
	a := request(t, sip.OPTIONS, "oldbranch")
	key, err := MakeServerTxKey(a)
	require.NoError(t, err)
	assert.Contains(t, string(key), a.CallID())
}

func TestTxKeyErrors(t *testing.T) {
	noVia := sip.NewRequest(sip.OPTIONS, "sip:bob@biloxi.com", []sip.Header{
		{Name: "Call-ID", Value: "k-1"},
		{Name: "CSeq", Value: "1 OPTIONS"},
	}, "")
	_, err := MakeServerTxKey(noVia)
	assert.ErrorContains(t, err, "'Via' header not found")
	_, err = MakeClientTxKey(noVia)
	assert.ErrorContains(t, err, "'Via' header not found")

	noBranch := sip.NewRequest(sip.OPTIONS, "sip:bob@biloxi.com", []sip.Header{
		{Name: "Via", Value: "SIP/2.0/UDP pc33.atlanta.com"},
		{Name: "Call-ID", Value: "k-2"},
		{Name: "CSeq", Value: "1 OPTIONS"},
	}, "")
	_, err = MakeClientTxKey(noBranch)
	assert.ErrorContains(t, err, "'branch' not found")

	noCSeq := sip.NewRequest(sip.OPTIONS, "sip:bob@biloxi.com", []sip.Header{
		{Name: "Via", Value: "SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bKk3"},
		{Name: "Call-ID", Value: "k-3"},
	}, "")
	_, err = MakeServerTxKey(noCSeq)
	assert.ErrorContains(t, err, "'CSeq' header not found")
}
