package transaction

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/zenghr0820/sipcore/sip"
)

const (
	clientSide = "client"
	serverSide = "server"
	keySep     = "__"
)

// fold maps ACK onto the INVITE transaction it belongs to.
func fold(method sip.RequestMethod) sip.RequestMethod {
	if method == sip.ACK {
		return sip.INVITE
	}
	return method
}

// MakeServerTxKey creates server transaction key for matching retransmitting requests - RFC 3261 17.2.3.
// The key is built from the top Via branch, its sent-by and the CSeq method.
func MakeServerTxKey(msg sip.Message) (sip.TxKey, error) {
	return makeServerKey(msg, false)
}

// CancelTargetKey returns the key of the INVITE server transaction a CANCEL
// refers to RFC 3261 - 9.2.
func CancelTargetKey(cancel *sip.Request) (sip.TxKey, error) {
	return makeServerKey(cancel, true)
}

func makeServerKey(msg sip.Message, cancel bool) (sip.TxKey, error) {
	via, ok := msg.Via()
	if !ok {
		return "", errors.Errorf("'Via' header not found or empty in message '%s'", msg.Short())
	}
	_, method, ok := msg.CSeq()
	if !ok {
		return "", errors.Errorf("'CSeq' header not found in message '%s'", msg.Short())
	}
	method = fold(method)
	if cancel && method == sip.CANCEL {
		method = sip.INVITE
	}

	branch := via.Branch()
	parts := []string{serverSide}
	if strings.HasPrefix(branch, sip.RFC3261BranchMagicCookie) {
		parts = append(parts, branch, via.SentBy(), string(method))
		return sip.TxKey(strings.Join(parts, keySep)), nil
	}

	// RFC 2543 compliant peers
	seq, _, _ := msg.CSeq()
	parts = append(parts,
		msg.CallID(),
		msg.FromTag(),
		strconv.FormatUint(uint64(seq), 10),
		via.SentBy(),
		string(method),
	)
	return sip.TxKey(strings.Join(parts, keySep)), nil
}

// MakeClientTxKey creates client key for matching responses - RFC 3261 17.1.3.
func MakeClientTxKey(msg sip.Message) (sip.TxKey, error) {
	via, ok := msg.Via()
	if !ok {
		return "", errors.Errorf("'Via' header not found or empty in message '%s'", msg.Short())
	}
	_, method, ok := msg.CSeq()
	if !ok {
		return "", errors.Errorf("'CSeq' header not found in message '%s'", msg.Short())
	}

	branch := via.Branch()
	if branch == "" {
		return "", errors.Errorf("'branch' not found in top 'Via' of message '%s'", msg.Short())
	}

	return sip.TxKey(strings.Join([]string{clientSide, branch, string(fold(method))}, keySep)), nil
}
