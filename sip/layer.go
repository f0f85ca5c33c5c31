package sip

// Messages exchanged between layers. Each union is closed: only the types in
// this file implement it.

// TransportCommand is accepted by the transport mailbox.
type TransportCommand interface {
	transportCommand()
}

// TransportIncoming carries a datagram read from a socket.
type TransportIncoming struct {
	Envelope Envelope
}

// TransportOutgoing asks the transport to render and send a message.
type TransportOutgoing struct {
	Message Message
	Peer    string
}

func (TransportIncoming) transportCommand() {}
func (TransportOutgoing) transportCommand() {}

// TxCommand is accepted by the transaction mailbox.
type TxCommand interface {
	txCommand()
}

// NewClientInvite starts an INVITE client transaction.
type NewClientInvite struct {
	Request  *Request
	Peer     string
	DialogID string
}

// NewClientRequest starts a non-INVITE client transaction. ACK is sent
// without a transaction.
type NewClientRequest struct {
	Request  *Request
	Peer     string
	DialogID string
}

// Reply is a response from the TU for a server transaction.
type Reply struct {
	Response *Response
}

// TxIncoming is a parsed message from the transport.
type TxIncoming struct {
	Msg TransportMsg
}

// TxTransportError reports a failed send of Message.
type TxTransportError struct {
	Message Message
	Peer    string
	Reason  error
}

// HasTransaction probes the transaction table.
type HasTransaction struct {
	Key    TxKey
	Result chan<- bool
}

func (NewClientInvite) txCommand()  {}
func (NewClientRequest) txCommand() {}
func (Reply) txCommand()            {}
func (TxIncoming) txCommand()       {}
func (TxTransportError) txCommand() {}
func (HasTransaction) txCommand()   {}

// TUEvent is delivered to the transaction user.
type TUEvent interface {
	tuEvent()
}

// TUIncoming is a message the transaction layer passed up. Key is empty for
// messages that belong to no transaction, like an ACK for a 2xx.
type TUIncoming struct {
	Msg TransportMsg
	Key TxKey
}

// TUTransportError reports that the transaction for Key failed, either on
// the wire or by timeout.
type TUTransportError struct {
	Message Message
	Key     TxKey
	Reason  error
}

func (TUIncoming) tuEvent()       {}
func (TUTransportError) tuEvent() {}
