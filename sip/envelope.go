package sip

import "net"

// Envelope is a raw datagram together with the address it came from or is
// going to.
type Envelope struct {
	Data []byte
	Peer net.Addr
}

// TransportMsg is a parsed message with its origin.
type TransportMsg struct {
	Message   Message
	Peer      string
	Transport string
}

func (msg TransportMsg) String() string {
	if msg.Message == nil {
		return "<nil>"
	}
	return msg.Message.Short() + " " + msg.Transport + "://" + msg.Peer
}

// ParseEnvelope turns a datagram into a TransportMsg.
func ParseEnvelope(env Envelope) (TransportMsg, error) {
	msg, err := ParseMessage(env.Data)
	if err != nil {
		return TransportMsg{}, err
	}
	peer := ""
	if env.Peer != nil {
		peer = env.Peer.String()
	}
	return TransportMsg{Message: msg, Peer: peer, Transport: DefaultProtocol}, nil
}

// NewEnvelope renders msg for peer. Rendering never fails.
func NewEnvelope(msg Message, peer net.Addr) Envelope {
	return Envelope{Data: []byte(msg.String()), Peer: peer}
}
