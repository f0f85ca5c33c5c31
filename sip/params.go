package sip

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// paramsOffset returns the index where header parameters start in a
// name-addr or addr-spec value, or -1 when there are none.
func paramsOffset(value string) int {
	from := 0
	if i := strings.IndexByte(value, '<'); i >= 0 {
		if j := strings.IndexByte(value[i:], '>'); j >= 0 {
			from = i + j
		}
	}
	if i := strings.IndexByte(value[from:], ';'); i >= 0 {
		return from + i
	}
	return -1
}

// HeaderParam returns a header parameter, e.g. the tag of a From header or
// the branch of a Via. Parameter names are case insensitive.
func HeaderParam(value, name string) (string, bool) {
	off := paramsOffset(value)
	if off < 0 {
		return "", false
	}
	for _, p := range strings.Split(value[off+1:], ";") {
		k, v := p, ""
		if i := strings.IndexByte(p, '='); i >= 0 {
			k, v = p[:i], p[i+1:]
		}
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.Trim(strings.TrimSpace(v), `"`), true
		}
	}

	return "", false
}

// SetHeaderParam returns value with the parameter set, replacing a previous
// one with the same name.
func SetHeaderParam(value, name, param string) string {
	base, rest := value, ""
	if off := paramsOffset(value); off >= 0 {
		base, rest = value[:off], value[off+1:]
	}
	var kept []string
	for _, p := range strings.Split(rest, ";") {
		if p == "" {
			continue
		}
		k := p
		if i := strings.IndexByte(p, '='); i >= 0 {
			k = p[:i]
		}
		if !strings.EqualFold(strings.TrimSpace(k), name) {
			kept = append(kept, p)
		}
	}
	if param == "" {
		kept = append(kept, name)
	} else {
		kept = append(kept, name+"="+param)
	}

	return base + ";" + strings.Join(kept, ";")
}

// AddressURI extracts the URI from a name-addr (`"Bob" <sip:bob@host>;tag=1`)
// or an addr-spec (`sip:bob@host;tag=1`).
func AddressURI(value string) string {
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, '<'); i >= 0 {
		if j := strings.IndexByte(value[i:], '>'); j >= 0 {
			return value[i+1 : i+j]
		}
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		return value[:i]
	}
	return value
}

// ViaHop is the parsed form of a single Via value.
type ViaHop struct {
	ProtocolName    string
	ProtocolVersion string
	Transport       string
	Host            string
	Port            Port
	Params          string
}

// SentBy returns host[:port] as written in the Via.
func (hop ViaHop) SentBy() string {
	if hop.Port == 0 {
		return hop.Host
	}
	return fmt.Sprintf("%s:%d", hop.Host, hop.Port)
}

func (hop ViaHop) Branch() string {
	b, _ := HeaderParam(";"+hop.Params, "branch")
	return b
}

func ParseVia(value string) (ViaHop, error) {
	var hop ViaHop
	value = strings.TrimSpace(value)
	sp := strings.IndexAny(value, " \t")
	if sp < 0 {
		return hop, errors.Errorf("invalid Via '%s'", value)
	}
	proto := strings.Split(strings.TrimSpace(value[:sp]), "/")
	if len(proto) != 3 {
		return hop, errors.Errorf("invalid Via protocol '%s'", value[:sp])
	}
	hop.ProtocolName, hop.ProtocolVersion = proto[0], proto[1]
	hop.Transport = strings.ToUpper(proto[2])

	sentBy := strings.TrimSpace(value[sp:])
	if i := strings.IndexByte(sentBy, ';'); i >= 0 {
		hop.Params = sentBy[i+1:]
		sentBy = strings.TrimSpace(sentBy[:i])
	}
	host, port, err := splitHostPort(sentBy)
	if err != nil {
		return hop, err
	}
	hop.Host, hop.Port = host, port

	return hop, nil
}

// ParseCSeq parses "<number> <method>".
func ParseCSeq(value string) (uint32, RequestMethod, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, "", errors.Errorf("invalid CSeq '%s'", value)
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", errors.Errorf("invalid CSeq number '%s'", fields[0])
	}

	return uint32(n), RequestMethod(strings.ToUpper(fields[1])), nil
}

func splitHostPort(s string) (string, Port, error) {
	if s == "" {
		return "", 0, errors.New("empty host")
	}
	// IPv6 reference
	if s[0] == '[' {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, errors.Errorf("invalid host '%s'", s)
		}
		host := s[1:end]
		if end+1 < len(s) && s[end+1] == ':' {
			p, err := strconv.ParseUint(s[end+2:], 10, 16)
			if err != nil {
				return "", 0, errors.Errorf("invalid port in '%s'", s)
			}
			return host, Port(p), nil
		}
		return host, 0, nil
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		p, err := strconv.ParseUint(s[i+1:], 10, 16)
		if err != nil {
			return "", 0, errors.Errorf("invalid port in '%s'", s)
		}
		return s[:i], Port(p), nil
	}

	return s, 0, nil
}
