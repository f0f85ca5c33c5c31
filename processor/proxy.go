package processor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/sip"
)

const DefaultMaxForwards = 70

// Locator finds the contacts registered for an address-of-record.
type Locator interface {
	Bindings(ctx context.Context, aor string) ([]Binding, error)
}

// Proxy relays requests statefully. It picks a single target: the newest
// registered contact of the Request-URI, or the upstream proxy.
type Proxy struct {
	locator  Locator
	sentBy   string
	upstream string
	methods  []sip.RequestMethod
}

type ProxyOption func(p *Proxy)

// Upstream sets the next hop for requests without a local binding.
func Upstream(peer string) ProxyOption {
	return func(p *Proxy) {
		p.upstream = peer
	}
}

// ProxyMethods replaces the relayed methods.
func ProxyMethods(methods ...sip.RequestMethod) ProxyOption {
	return func(p *Proxy) {
		p.methods = methods
	}
}

// NewProxy creates a proxy that writes sentBy (host:port) into its Via.
func NewProxy(locator Locator, sentBy string, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		locator: locator,
		sentBy:  sentBy,
		methods: []sip.RequestMethod{
			sip.INVITE, sip.MESSAGE, sip.INFO, sip.UPDATE, sip.REFER, sip.SUBSCRIBE, sip.NOTIFY,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Proxy) Kind() Kind { return KindProxy }

func (p *Proxy) Methods() []sip.RequestMethod {
	// CANCEL, ACK and BYE of proxied dialogs are relayed by the dialog layer
	return lo.Without(p.methods, sip.ACK, sip.CANCEL, sip.BYE)
}

func (p *Proxy) Handle(ctx context.Context, method sip.RequestMethod, req *sip.Request) (Result, error) {
	hops, err := maxForwards(req)
	if err != nil {
		return Result{}, Fail(sip.StatusBadRequest, err)
	}
	if hops == 0 {
		return Respond(req.CreateResponse(sip.StatusTooManyHops)), nil
	}
	if p.looped(req) {
		return Respond(req.CreateResponse(sip.StatusLoopDetected)), nil
	}

	fwd := req.CloneRequest()
	peer := ""
	if req.ToTag() == "" {
		target, err := p.locate(ctx, req)
		if err != nil {
			return Result{}, err
		}
		switch {
		case target != "":
			fwd.SetRecipient(target)
		case p.upstream != "":
			peer = p.upstream
		default:
			return Respond(req.CreateResponse(sip.StatusNotFound)), nil
		}
	}

	fwd.SetHeader("Max-Forwards", strconv.Itoa(hops-1))
	fwd.PrependHeader("Via", fmt.Sprintf("%s/%s %s;branch=%s;rport",
		sip.SipVersion, sip.DefaultProtocol, p.sentBy, sip.GenerateBranch()))
	logger.Debugf("[proxy] -> relay %s to %s %s", method, fwd.Recipient(), peer)

	return Relay(fwd, peer), nil
}

// locate returns the newest live contact of the Request-URI, "" when none.
func (p *Proxy) locate(ctx context.Context, req *sip.Request) (string, error) {
	if p.locator == nil {
		return "", nil
	}
	uri, err := sip.ParseURI(req.Recipient())
	if err != nil {
		return "", Fail(sip.StatusUnsupportedURIScheme, err)
	}
	bindings, err := p.locator.Bindings(ctx, uri.AOR())
	if err != nil {
		return "", Fail(sip.StatusServerInternalError, errors.Wrap(err, "location lookup"))
	}
	if len(bindings) == 0 {
		return "", nil
	}
	return bindings[0].Contact, nil
}

// looped reports a request that already passed through us, a simplified
// RFC 3261 - 16.3 step 4.
func (p *Proxy) looped(req *sip.Request) bool {
	return lo.ContainsBy(req.GetHeaders("Via"), func(v string) bool {
		hop, err := sip.ParseVia(v)
		return err == nil && hop.SentBy() == p.sentBy
	})
}

func maxForwards(req *sip.Request) (int, error) {
	v, ok := req.GetHeader("Max-Forwards")
	if !ok {
		return DefaultMaxForwards, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid Max-Forwards '%s'", v)
	}
	return n, nil
}
