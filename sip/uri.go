package sip

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// URI is a minimal SIP URI: sip:user@host:port;params?headers
type URI struct {
	Scheme string
	User   string
	Host   string
	Port   Port
	Params string
}

func ParseURI(s string) (URI, error) {
	var uri URI
	s = strings.TrimSpace(AddressURI(s))
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return uri, errors.Errorf("invalid uri '%s'", s)
	}
	uri.Scheme = strings.ToLower(s[:i])
	if uri.Scheme != "sip" && uri.Scheme != "sips" {
		return uri, errors.Errorf("unsupported uri scheme '%s'", uri.Scheme)
	}
	rest := s[i+1:]
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		uri.User = rest[:at]
		// password is not kept
		if c := strings.IndexByte(uri.User, ':'); c >= 0 {
			uri.User = uri.User[:c]
		}
		rest = rest[at+1:]
	}
	if p := strings.IndexByte(rest, ';'); p >= 0 {
		uri.Params = rest[p+1:]
		rest = rest[:p]
	}
	host, port, err := splitHostPort(rest)
	if err != nil {
		return uri, err
	}
	uri.Host, uri.Port = strings.ToLower(host), port

	return uri, nil
}

// HostPort returns host:port, falling back to the default SIP port.
func (uri URI) HostPort() string {
	port := uri.Port
	if port == 0 {
		port = DefaultUdpPort
	}
	host := uri.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// AOR returns the address-of-record form scheme:user@host used as binding key.
func (uri URI) AOR() string {
	if uri.User == "" {
		return uri.Scheme + ":" + uri.Host
	}
	return uri.Scheme + ":" + uri.User + "@" + uri.Host
}

func (uri URI) String() string {
	var b strings.Builder
	b.WriteString(uri.Scheme)
	b.WriteString(":")
	if uri.User != "" {
		b.WriteString(uri.User)
		b.WriteString("@")
	}
	if strings.Contains(uri.Host, ":") {
		b.WriteString("[" + uri.Host + "]")
	} else {
		b.WriteString(uri.Host)
	}
	if uri.Port != 0 {
		b.WriteString(fmt.Sprintf(":%d", uri.Port))
	}
	if uri.Params != "" {
		b.WriteString(";")
		b.WriteString(uri.Params)
	}
	return b.String()
}
