package processor

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"github.com/zenghr0820/sipcore/sip"
)

// Capabilities answers OPTIONS with what the server supports.
type Capabilities struct {
	allowed   func() []sip.RequestMethod
	accept    []string
	supported []string
}

// NewCapabilities reports the methods returned by allowed, which is
// usually Table.AllowedMethods plus the methods the dialog layer handles
// itself.
func NewCapabilities(allowed func() []sip.RequestMethod) *Capabilities {
	return &Capabilities{
		allowed: allowed,
		accept:  []string{"application/sdp"},
	}
}

// Supported sets the option tags listed in Supported.
func (c *Capabilities) Supported(tags ...string) *Capabilities {
	c.supported = tags
	return c
}

func (c *Capabilities) Kind() Kind { return KindCapabilities }

func (c *Capabilities) Methods() []sip.RequestMethod {
	return []sip.RequestMethod{sip.OPTIONS}
}

func (c *Capabilities) Handle(_ context.Context, _ sip.RequestMethod, req *sip.Request) (Result, error) {
	res := req.CreateResponse(sip.StatusOK)
	res.AddHeader("Allow", AllowHeader(c.allowed()))
	res.AddHeader("Accept", strings.Join(c.accept, ", "))
	if len(c.supported) > 0 {
		res.AddHeader("Supported", strings.Join(c.supported, ", "))
	}
	return Respond(res), nil
}

// AllowHeader renders methods for an Allow header.
func AllowHeader(methods []sip.RequestMethod) string {
	return strings.Join(lo.Map(methods, func(m sip.RequestMethod, _ int) string {
		return string(m)
	}), ", ")
}
