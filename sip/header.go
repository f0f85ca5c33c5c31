package sip

import (
	"net/textproto"
	"strings"
)

// Header is a single header field line. Multi-valued headers such as Via are
// kept as one Header per value so the order of hops is preserved.
type Header struct {
	Name  string
	Value string
}

func (h Header) String() string {
	return h.Name + ": " + h.Value
}

// 紧凑形式的头部名称 RFC 3261 - 7.3.3
var compactHeaders = map[string]string{
	"v": "Via",
	"f": "From",
	"t": "To",
	"i": "Call-ID",
	"m": "Contact",
	"l": "Content-Length",
	"c": "Content-Type",
	"k": "Supported",
	"s": "Subject",
	"e": "Content-Encoding",
	"o": "Event",
	"u": "Allow-Events",
}

var canonicalHeaders = map[string]string{
	"via":              "Via",
	"from":             "From",
	"to":               "To",
	"call-id":          "Call-ID",
	"cseq":             "CSeq",
	"contact":          "Contact",
	"content-length":   "Content-Length",
	"content-type":     "Content-Type",
	"max-forwards":     "Max-Forwards",
	"expires":          "Expires",
	"min-expires":      "Min-Expires",
	"record-route":     "Record-Route",
	"route":            "Route",
	"www-authenticate": "WWW-Authenticate",
	"sip-etag":         "SIP-ETag",
	"sip-if-match":     "SIP-If-Match",
	"user-agent":       "User-Agent",
}

// CanonicalHeaderName expands compact forms and normalizes the case of a
// header name.
func CanonicalHeaderName(name string) string {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	if full, ok := compactHeaders[lower]; ok {
		return full
	}
	if full, ok := canonicalHeaders[lower]; ok {
		return full
	}

	return textproto.CanonicalMIMEHeaderKey(name)
}

// headers which may legally be combined into a comma separated list
var listHeaders = map[string]bool{
	"Via":          true,
	"Contact":      true,
	"Route":        true,
	"Record-Route": true,
}

// ordered header list
type headers struct {
	list []Header
}

func (hs *headers) Headers() []Header {
	out := make([]Header, len(hs.list))
	copy(out, hs.list)
	return out
}

// GetHeader returns the first value of the named header.
func (hs *headers) GetHeader(name string) (string, bool) {
	name = CanonicalHeaderName(name)
	for _, h := range hs.list {
		if h.Name == name {
			return h.Value, true
		}
	}

	return "", false
}

func (hs *headers) GetHeaders(name string) []string {
	name = CanonicalHeaderName(name)
	var values []string
	for _, h := range hs.list {
		if h.Name == name {
			values = append(values, h.Value)
		}
	}

	return values
}

func (hs *headers) AddHeader(name, value string) {
	hs.list = append(hs.list, Header{Name: CanonicalHeaderName(name), Value: value})
}

// PrependHeader inserts the header before all others of the same name, or at
// the top of the list when there are none.
func (hs *headers) PrependHeader(name, value string) {
	name = CanonicalHeaderName(name)
	idx := 0
	for i, h := range hs.list {
		if h.Name == name {
			idx = i
			break
		}
	}
	hs.list = append(hs.list, Header{})
	copy(hs.list[idx+1:], hs.list[idx:])
	hs.list[idx] = Header{Name: name, Value: value}
}

// SetHeader replaces the first header with the given name and removes the
// rest; the header is appended when missing.
func (hs *headers) SetHeader(name, value string) {
	name = CanonicalHeaderName(name)
	out := hs.list[:0]
	replaced := false
	for _, h := range hs.list {
		if h.Name != name {
			out = append(out, h)
			continue
		}
		if !replaced {
			out = append(out, Header{Name: name, Value: value})
			replaced = true
		}
	}
	hs.list = out
	if !replaced {
		hs.list = append(hs.list, Header{Name: name, Value: value})
	}
}

// DelHeader removes every header with one of the given names.
func (hs *headers) DelHeader(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[CanonicalHeaderName(n)] = true
	}
	out := hs.list[:0]
	for _, h := range hs.list {
		if !drop[h.Name] {
			out = append(out, h)
		}
	}
	hs.list = out
}

// removeFirst drops the first header with the given name.
func (hs *headers) removeFirst(name string) {
	name = CanonicalHeaderName(name)
	for i, h := range hs.list {
		if h.Name == name {
			hs.list = append(hs.list[:i], hs.list[i+1:]...)
			return
		}
	}
}

func (hs *headers) clone() headers {
	return headers{list: append([]Header(nil), hs.list...)}
}

func (hs *headers) String() string {
	var b strings.Builder
	for _, h := range hs.list {
		b.WriteString(h.String())
		b.WriteString("\r\n")
	}
	return b.String()
}

// splitHeaderList splits a comma separated header value, ignoring commas that
// appear inside quotes or angle brackets.
func splitHeaderList(value string) []string {
	var (
		parts   []string
		quoted  bool
		angle   bool
		start   int
		escaped bool
	)
	for i := 0; i < len(value); i++ {
		c := value[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == '<' && !quoted:
			angle = true
		case c == '>' && !quoted:
			angle = false
		case c == ',' && !quoted && !angle:
			if p := strings.TrimSpace(value[start:i]); p != "" {
				parts = append(parts, p)
			}
			start = i + 1
		}
	}
	if p := strings.TrimSpace(value[start:]); p != "" {
		parts = append(parts, p)
	}

	return parts
}
