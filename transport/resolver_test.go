package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	q := r.Question[0]
	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}

	switch {
	case q.Qtype == dns.TypeSRV && q.Name == "_sip._udp.example.test.":
		m.Answer = append(m.Answer,
			&dns.SRV{Hdr: hdr, Priority: 20, Weight: 100, Port: 5090, Target: "sip2.example.test."},
			&dns.SRV{Hdr: hdr, Priority: 10, Weight: 5, Port: 5070, Target: "sip1.example.test."},
		)
	case q.Qtype == dns.TypeA && q.Name == "sip1.example.test.":
		m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.ParseIP("127.0.0.2").To4()})
	case q.Qtype == dns.TypeA && q.Name == "plain.example.test.":
		m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.ParseIP("127.0.0.3").To4()})
	default:
		m.Rcode = dns.RcodeNameError
	}
	_ = w.WriteMsg(m)
}

// startDNS runs an authoritative test server on a random port.
func startDNS(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Handler:           dns.HandlerFunc(serveDNS),
		NotifyStartedFunc: func() { close(started) },
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestResolver(t *testing.T) {
	r := &Resolver{NameServer: startDNS(t), Timeout: time.Second}
	ctx := context.Background()

	cases := []struct {
		peer string
		want string
	}{
		{"10.0.0.1", "10.0.0.1:5060"},
		{"10.0.0.1:5080", "10.0.0.1:5080"},
		{"[::1]:5070", "[::1]:5070"},
		// SRV picks the lowest priority
		{"example.test", "127.0.0.2:5070"},
		// explicit port skips SRV
		{"sip1.example.test:5080", "127.0.0.2:5080"},
		// SRV miss falls back to A
		{"plain.example.test", "127.0.0.3:5060"},
	}
	for _, c := range cases {
		addr, err := r.Resolve(ctx, c.peer)
		if assert.NoError(t, err, c.peer) {
			assert.Equal(t, c.want, addr.String(), c.peer)
		}
	}
}

func TestResolverErrors(t *testing.T) {
	r := &Resolver{NameServer: startDNS(t), Timeout: time.Second}

	_, err := r.Resolve(context.Background(), "unknown.test")
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "unknown.test", resolveErr.Host)
	assert.True(t, resolveErr.Network())

	_, err = r.Resolve(context.Background(), "")
	assert.Error(t, err)

	_, err = r.Resolve(context.Background(), "10.0.0.1:99999")
	assert.Error(t, err)
}

func TestNameServerDefaultPort(t *testing.T) {
	assert.Equal(t, "10.0.0.2:53", (&Resolver{NameServer: "10.0.0.2"}).nameserver())
	assert.Equal(t, "10.0.0.2:5353", (&Resolver{NameServer: "10.0.0.2:5353"}).nameserver())
}
