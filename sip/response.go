package sip

import "fmt"

// Response RFC 3261 - 7.2.
type Response struct {
	message
	statusCode StatusCode
	reason     string
}

func NewResponse(statusCode StatusCode, reason string, hdrs []Header, body string) *Response {
	res := &Response{statusCode: statusCode, reason: reason}
	res.messID = newMessageID()
	for _, h := range hdrs {
		res.AddHeader(h.Name, h.Value)
	}
	res.SetBody(body)
	return res
}

func (res *Response) Short() string {
	if res == nil {
		return "<nil>"
	}

	return fmt.Sprintf("sip.Response<%s %d %s>", res.messID, res.statusCode, res.CallID())
}

func (res *Response) StatusCode() StatusCode {
	return res.statusCode
}

func (res *Response) Reason() string {
	return res.reason
}

// StartLine returns Response Status Line - RFC 2361 7.2.
func (res *Response) StartLine() string {
	return fmt.Sprintf("%s %d %s", SipVersion, res.statusCode, res.reason)
}

func (res *Response) String() string {
	return res.render(res.StartLine())
}

func (res *Response) IsRequest() bool { return false }

// Method returns the method named in CSeq.
func (res *Response) Method() RequestMethod {
	_, method, _ := res.CSeq()
	return method
}

func (res *Response) IsProvisional() bool {
	return res.statusCode < 200
}

func (res *Response) IsSuccess() bool {
	return res.statusCode >= 200 && res.statusCode < 300
}

func (res *Response) IsFinal() bool {
	return res.statusCode >= 200
}

func (res *Response) Clone() Message {
	return res.CloneResponse()
}

func (res *Response) CloneResponse() *Response {
	return &Response{
		message: message{
			headers: res.headers.clone(),
			messID:  newMessageID(),
			body:    res.body,
		},
		statusCode: res.statusCode,
		reason:     res.reason,
	}
}

// WithToTag returns a copy with the To tag set; the receiver is unchanged.
func (res *Response) WithToTag(tag string) *Response {
	out := res.CloneResponse()
	out.SetToTag(tag)
	return out
}

// RemoveTopVia drops the first Via hop, used when relaying responses.
func (res *Response) RemoveTopVia() {
	res.removeFirst("Via")
}
