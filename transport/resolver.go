package transport

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/sip"
)

// Resolver turns a peer ("host[:port]") into a UDP address. Host names
// without a port are looked up as _sip._udp SRV records first (RFC 3263),
// then as A records.
type Resolver struct {
	// NameServer is queried directly with miekg/dns when set, e.g.
	// "10.0.0.2:53". Empty means the system resolver.
	NameServer string
	Timeout    time.Duration
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Second
}

// Resolve resolves peer. IP literals never touch DNS.
func (r *Resolver) Resolve(ctx context.Context, peer string) (*net.UDPAddr, error) {
	host, port, hasPort, err := splitPeer(peer)
	if err != nil {
		return nil, &ResolveError{err, peer}
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}

	if !hasPort {
		if target, p, err := r.lookupSRV(ctx, host); err == nil {
			host, port = target, p
		} else {
			logger.Debugf("[resolver] -> SRV lookup for %s failed: %s", host, err)
		}
	}

	ip, err := r.lookupA(ctx, host)
	if err != nil {
		return nil, &ResolveError{err, host}
	}

	return &net.UDPAddr{IP: ip, Port: port}, nil
}

func splitPeer(peer string) (string, int, bool, error) {
	if peer == "" {
		return "", 0, false, errors.New("empty peer")
	}
	host, port, err := net.SplitHostPort(peer)
	if err != nil {
		// no port
		return strings.Trim(peer, "[]"), int(sip.DefaultUdpPort), false, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", 0, false, errors.Errorf("invalid port in %q", peer)
	}
	return host, p, true, nil
}

func (r *Resolver) lookupSRV(ctx context.Context, host string) (string, int, error) {
	if r.NameServer == "" {
		_, srvs, err := net.DefaultResolver.LookupSRV(ctx, "sip", "udp", host)
		if err != nil {
			return "", 0, err
		}
		if len(srvs) == 0 {
			return "", 0, errors.Errorf("no SRV records for %s", host)
		}
		return strings.TrimSuffix(srvs[0].Target, "."), int(srvs[0].Port), nil
	}

	resp, err := r.exchange(ctx, "_sip._udp."+host, dns.TypeSRV)
	if err != nil {
		return "", 0, err
	}

	var srvs []*dns.SRV
	for _, ans := range resp.Answer {
		if rr, ok := ans.(*dns.SRV); ok {
			srvs = append(srvs, rr)
		}
	}
	if len(srvs) == 0 {
		return "", 0, errors.Errorf("no SRV records for %s", host)
	}
	// lowest priority first, then the heaviest weight
	sort.SliceStable(srvs, func(i, j int) bool {
		if srvs[i].Priority != srvs[j].Priority {
			return srvs[i].Priority < srvs[j].Priority
		}
		return srvs[i].Weight > srvs[j].Weight
	})

	return strings.TrimSuffix(srvs[0].Target, "."), int(srvs[0].Port), nil
}

func (r *Resolver) lookupA(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	if r.NameServer == "" {
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, errors.Errorf("no A records for %s", host)
		}
		return ips[0], nil
	}

	resp, err := r.exchange(ctx, host, dns.TypeA)
	if err != nil {
		return nil, err
	}
	for _, ans := range resp.Answer {
		if rr, ok := ans.(*dns.A); ok {
			return rr.A, nil
		}
	}
	return nil, errors.Errorf("no A records for %s", host)
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	client := &dns.Client{Net: "udp", Timeout: r.timeout()}
	resp, _, err := client.ExchangeContext(ctx, m, r.nameserver())
	if err != nil {
		return nil, errors.Wrapf(err, "query %s %s", dns.TypeToString[qtype], name)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{
			Err:        dns.RcodeToString[resp.Rcode],
			Name:       name,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		}
	}
	return resp, nil
}

func (r *Resolver) nameserver() string {
	if _, _, err := net.SplitHostPort(r.NameServer); err != nil {
		return net.JoinHostPort(r.NameServer, strconv.Itoa(53))
	}
	return r.NameServer
}
