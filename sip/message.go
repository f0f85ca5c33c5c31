package sip

import (
	"bytes"
	"strconv"
	"strings"
)

type MessageID string

// Message introduces common SIP message RFC 3261 - 7.
// Implemented by *Request and *Response only. A message handed to another
// layer must not be mutated; use Clone first.
type Message interface {
	MessageID() MessageID
	Short() string
	String() string

	// SIP 请求是根据起始行中的 Request-Line 来区分的
	// Request-Line = Method SP Request-URI SP SIP-VERSION CRLF
	StartLine() string

	// 头部参数集合
	Headers() []Header
	GetHeader(name string) (string, bool)
	GetHeaders(name string) []string

	// Body returns message body.
	Body() string

	// CallID returns 'Call-ID' header.
	CallID() string
	// Via returns the top 'Via' value.
	Via() (ViaHop, bool)
	FromTag() string
	ToTag() string
	// CSeq returns 'CSeq' header field.
	CSeq() (uint32, RequestMethod, bool)

	IsRequest() bool
	Clone() Message

	sealed()
}

// basic message implementation
type message struct {
	headers
	messID MessageID
	body   string
}

func (msg *message) sealed() {}

func (msg *message) MessageID() MessageID {
	return msg.messID
}

func (msg *message) Body() string {
	return msg.body
}

// SetBody sets message body and updates 'Content-Length'.
func (msg *message) SetBody(body string) {
	msg.body = body
	msg.SetHeader("Content-Length", strconv.Itoa(len(body)))
}

func (msg *message) CallID() string {
	v, _ := msg.GetHeader("Call-ID")
	return strings.TrimSpace(v)
}

func (msg *message) Via() (ViaHop, bool) {
	v, ok := msg.GetHeader("Via")
	if !ok {
		return ViaHop{}, false
	}
	hop, err := ParseVia(v)
	if err != nil {
		return ViaHop{}, false
	}
	return hop, true
}

func (msg *message) FromTag() string {
	v, _ := msg.GetHeader("From")
	tag, _ := HeaderParam(v, "tag")
	return tag
}

func (msg *message) ToTag() string {
	v, _ := msg.GetHeader("To")
	tag, _ := HeaderParam(v, "tag")
	return tag
}

func (msg *message) CSeq() (uint32, RequestMethod, bool) {
	v, ok := msg.GetHeader("CSeq")
	if !ok {
		return 0, "", false
	}
	seq, method, err := ParseCSeq(v)
	if err != nil {
		return 0, "", false
	}
	return seq, method, true
}

// SetToTag sets the tag parameter of the To header.
func (msg *message) SetToTag(tag string) {
	to, _ := msg.GetHeader("To")
	msg.SetHeader("To", SetHeaderParam(to, "tag", tag))
}

func (msg *message) render(startLine string) string {
	var buffer bytes.Buffer

	// write message start line
	buffer.WriteString(startLine + "\r\n")
	// Write the headers.
	buffer.WriteString(msg.headers.String())
	// message body
	buffer.WriteString("\r\n" + msg.body)

	return buffer.String()
}

func (msg *message) copyFrom(from Message, names ...string) {
	for _, name := range names {
		for _, v := range from.GetHeaders(name) {
			msg.AddHeader(name, v)
		}
	}
}

// CopyHeaders appends every value of the named header of from to to.
func CopyHeaders(name string, from Message, to interface{ AddHeader(string, string) }) {
	for _, v := range from.GetHeaders(name) {
		to.AddHeader(name, v)
	}
}
