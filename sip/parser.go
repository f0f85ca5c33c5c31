package sip

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// mandatory headers RFC 3261 - 8.1.1
var requiredHeaders = []string{"Via", "From", "To", "Call-ID", "CSeq"}

// ParseMessage parses a single datagram into a Request or a Response.
// Broken input yields *BrokenMessageError, missing or invalid mandatory
// headers yield *MalformedMessageError.
func ParseMessage(data []byte) (Message, error) {
	raw := string(data)
	head, rest, ok := splitHead(data)
	if !ok {
		return nil, &BrokenMessageError{Err: errors.New("missing header terminator"), Msg: raw}
	}

	lines := unfold(strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n"))
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, &BrokenMessageError{Err: errors.New("empty start line"), Msg: raw}
	}

	var (
		msg  *message
		out  Message
		err  error
		line = strings.TrimSpace(lines[0])
	)
	if strings.HasPrefix(line, "SIP/") {
		var res *Response
		if res, err = parseStatusLine(line); err == nil {
			msg, out = &res.message, res
		}
	} else {
		var req *Request
		if req, err = parseRequestLine(line); err == nil {
			msg, out = &req.message, req
		}
	}
	if err != nil {
		return nil, &BrokenMessageError{Err: err, Msg: raw}
	}
	msg.messID = newMessageID()

	for _, l := range lines[1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		i := strings.IndexByte(l, ':')
		if i <= 0 {
			return nil, &BrokenMessageError{Err: errors.Errorf("invalid header line '%s'", l), Msg: raw}
		}
		name := CanonicalHeaderName(l[:i])
		value := strings.TrimSpace(l[i+1:])
		if listHeaders[name] {
			for _, v := range splitHeaderList(value) {
				msg.AddHeader(name, v)
			}
			continue
		}
		msg.AddHeader(name, value)
	}

	body := rest
	if cl, ok := msg.GetHeader("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, &MalformedMessageError{Err: errors.Errorf("invalid Content-Length '%s'", cl), Msg: raw}
		}
		if n > len(rest) {
			return nil, &BrokenMessageError{
				Err: errors.Errorf("body is %d bytes, Content-Length says %d", len(rest), n),
				Msg: raw,
			}
		}
		body = rest[:n]
	}
	msg.body = string(body)

	if err := validate(out); err != nil {
		return nil, &MalformedMessageError{Err: err, Msg: raw}
	}

	return out, nil
}

func splitHead(data []byte) ([]byte, []byte, bool) {
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return data[:i], data[i+4:], true
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return data[:i], data[i+2:], true
	}
	return nil, nil, false
}

// unfold joins header continuation lines RFC 3261 - 7.3.1.
func unfold(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(out) > 1 && l != "" && (l[0] == ' ' || l[0] == '\t') {
			out[len(out)-1] += " " + strings.TrimSpace(l)
			continue
		}
		out = append(out, l)
	}
	return out
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, errors.Errorf("invalid request line '%s'", line)
	}
	if !strings.EqualFold(parts[2], SipVersion) {
		return nil, errors.Errorf("unsupported version '%s'", parts[2])
	}
	return &Request{
		method:    RequestMethod(strings.ToUpper(parts[0])),
		recipient: parts[1],
	}, nil
}

func parseStatusLine(line string) (*Response, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, errors.Errorf("invalid status line '%s'", line)
	}
	if !strings.EqualFold(parts[0], SipVersion) {
		return nil, errors.Errorf("unsupported version '%s'", parts[0])
	}
	code, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || code < 100 || code > 699 {
		return nil, errors.Errorf("invalid status code '%s'", parts[1])
	}
	res := &Response{statusCode: StatusCode(code)}
	if len(parts) == 3 {
		res.reason = strings.TrimSpace(parts[2])
	}
	return res, nil
}

func validate(msg Message) error {
	for _, name := range requiredHeaders {
		if _, ok := msg.GetHeader(name); !ok {
			return errors.Errorf("missing %s header", name)
		}
	}
	if _, ok := msg.Via(); !ok {
		v, _ := msg.GetHeader("Via")
		return errors.Errorf("invalid Via '%s'", v)
	}
	_, method, ok := msg.CSeq()
	if !ok {
		v, _ := msg.GetHeader("CSeq")
		return errors.Errorf("invalid CSeq '%s'", v)
	}
	if req, isReq := msg.(*Request); isReq && req.Method() != method {
		return errors.Errorf("CSeq method %s does not match %s", method, req.Method())
	}
	return nil
}
