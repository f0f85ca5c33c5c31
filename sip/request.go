package sip

import (
	"fmt"
	"strconv"
)

// Request RFC 3261 - 7.1.
type Request struct {
	message
	method    RequestMethod
	recipient string
}

// NewRequest builds a request; Content-Length is derived from body.
func NewRequest(method RequestMethod, recipient string, hdrs []Header, body string) *Request {
	req := &Request{method: method, recipient: recipient}
	req.messID = newMessageID()
	for _, h := range hdrs {
		req.AddHeader(h.Name, h.Value)
	}
	req.SetBody(body)
	return req
}

func (req *Request) Short() string {
	if req == nil {
		return "<nil>"
	}

	return fmt.Sprintf("sip.Request<%s %s %s>", req.messID, req.method, req.CallID())
}

func (req *Request) Method() RequestMethod {
	return req.method
}

func (req *Request) Recipient() string {
	return req.recipient
}

// SetRecipient replaces the Request-URI.
func (req *Request) SetRecipient(recipient string) {
	req.recipient = recipient
}

// StartLine returns Request Line - RFC 2361 7.1.
func (req *Request) StartLine() string {
	return fmt.Sprintf("%s %s %s", req.method, req.recipient, SipVersion)
}

func (req *Request) String() string {
	return req.render(req.StartLine())
}

func (req *Request) IsRequest() bool { return true }
func (req *Request) IsInvite() bool  { return req.method == INVITE }
func (req *Request) IsAck() bool     { return req.method == ACK }
func (req *Request) IsCancel() bool  { return req.method == CANCEL }

func (req *Request) Clone() Message {
	return req.CloneRequest()
}

func (req *Request) CloneRequest() *Request {
	return &Request{
		message: message{
			headers: req.headers.clone(),
			messID:  newMessageID(),
			body:    req.body,
		},
		method:    req.method,
		recipient: req.recipient,
	}
}

// RemoveTopVia drops the first Via hop, used when relaying responses.
func (req *Request) RemoveTopVia() {
	req.removeFirst("Via")
}

// CreateResponse 创建响应函数
func (req *Request) CreateResponse(statusCode StatusCode) *Response {
	return req.CreateResponseReason(statusCode, Reason(statusCode))
}

// CreateResponseReason builds a response carrying the Via, From, To, Call-ID
// and CSeq of the request RFC 3261 - 8.2.6.
func (req *Request) CreateResponseReason(statusCode StatusCode, reason string) *Response {
	res := &Response{statusCode: statusCode, reason: reason}
	res.messID = newMessageID()
	res.copyFrom(req, "Via", "From", "To", "Call-ID", "CSeq")
	if statusCode > 100 && statusCode < 300 {
		res.copyFrom(req, "Record-Route")
	}
	res.SetBody("")
	return res
}

// CreateAck builds the ACK for a non-2xx final response RFC 3261 - 17.1.1.3.
// It shares the branch of the INVITE so it stays inside the transaction.
func CreateAck(invite *Request, res *Response) *Request {
	ack := &Request{method: ACK, recipient: invite.recipient}
	ack.messID = newMessageID()
	if via, ok := invite.GetHeader("Via"); ok {
		ack.AddHeader("Via", via)
	}
	ack.copyFrom(invite, "From")
	ack.copyFrom(res, "To")
	ack.copyFrom(invite, "Call-ID")
	seq, _, _ := invite.CSeq()
	ack.AddHeader("CSeq", strconv.FormatUint(uint64(seq), 10)+" "+string(ACK))
	ack.copyFrom(invite, "Route", "Max-Forwards")
	ack.SetBody("")
	return ack
}

// CreateCancel builds a CANCEL for a pending INVITE RFC 3261 - 9.1.
func CreateCancel(invite *Request) *Request {
	cancel := &Request{method: CANCEL, recipient: invite.recipient}
	cancel.messID = newMessageID()
	if via, ok := invite.GetHeader("Via"); ok {
		cancel.AddHeader("Via", via)
	}
	cancel.copyFrom(invite, "From", "To", "Call-ID")
	seq, _, _ := invite.CSeq()
	cancel.AddHeader("CSeq", strconv.FormatUint(uint64(seq), 10)+" "+string(CANCEL))
	cancel.copyFrom(invite, "Route", "Max-Forwards")
	cancel.SetBody("")
	return cancel
}
