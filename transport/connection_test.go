package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStats(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn := newConnection(pc)

	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()

	_, err = conn.WriteTo([]byte("OPTIONS"), peer.LocalAddr())
	require.NoError(t, err)
	_, err = peer.WriteTo([]byte("SIP/2.0 200 OK"), conn.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, BufferSize)
	n, raddr, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "SIP/2.0 200 OK", string(buf[:n]))
	assert.Equal(t, peer.LocalAddr().String(), raddr.String())

	read, written := conn.Stats()
	assert.Equal(t, uint64(1), read)
	assert.Equal(t, uint64(1), written)
	assert.Contains(t, conn.String(), pc.LocalAddr().String())
	require.NoError(t, conn.Close())
}

func TestErrorStrings(t *testing.T) {
	connErr := &ConnectionError{Err: net.ErrClosed, Op: "write", Net: "UDP", Source: "127.0.0.1:5060", Dest: "192.0.2.1:5060"}
	assert.Equal(t, "transport.ConnectionError<UDP 127.0.0.1:5060 -> 192.0.2.1:5060> write failed: "+net.ErrClosed.Error(), connErr.Error())
	assert.ErrorIs(t, connErr, net.ErrClosed)

	protoErr := &ProtocolError{Err: errNotListening, Op: "send", Addr: "192.0.2.1:5060"}
	assert.Equal(t, "transport.ProtocolError<192.0.2.1:5060> send failed: no listening connection", protoErr.Error())
	assert.False(t, protoErr.Timeout())

	var nilErr *ResolveError
	assert.Equal(t, "<nil>", nilErr.Error())
}
