package processor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/sip"
)

const (
	DefaultExpires    = 3600
	DefaultMinExpires = 60
	DefaultMaxExpires = 7200
)

// Registrar answers REGISTER RFC 3261 - 10.3.
type Registrar struct {
	store          BindingStore
	minExpires     int
	maxExpires     int
	defaultExpires int
	now            func() time.Time
}

type RegistrarOption func(r *Registrar)

func MinExpires(sec int) RegistrarOption {
	return func(r *Registrar) {
		if sec > 0 {
			r.minExpires = sec
		}
	}
}

func MaxExpires(sec int) RegistrarOption {
	return func(r *Registrar) {
		if sec > 0 {
			r.maxExpires = sec
		}
	}
}

func NewRegistrar(store BindingStore, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		store:          store,
		minExpires:     DefaultMinExpires,
		maxExpires:     DefaultMaxExpires,
		defaultExpires: DefaultExpires,
		now:            time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.defaultExpires > r.maxExpires {
		r.defaultExpires = r.maxExpires
	}
	return r
}

func (r *Registrar) Kind() Kind { return KindRegistrar }

func (r *Registrar) Methods() []sip.RequestMethod {
	return []sip.RequestMethod{sip.REGISTER}
}

// Store is also the location service of the proxy.
func (r *Registrar) Store() BindingStore {
	return r.store
}

func (r *Registrar) Handle(ctx context.Context, _ sip.RequestMethod, req *sip.Request) (Result, error) {
	to, _ := req.GetHeader("To")
	uri, err := sip.ParseURI(to)
	if err != nil {
		return Result{}, Fail(sip.StatusBadRequest, errors.Wrap(err, "invalid To"))
	}
	aor := uri.AOR()
	seq, _, _ := req.CSeq()

	headerExpires := r.defaultExpires
	if v, ok := req.GetHeader("Expires"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return Result{}, Fail(sip.StatusBadRequest, errors.Errorf("invalid Expires '%s'", v))
		}
		headerExpires = n
	}

	contacts := req.GetHeaders("Contact")
	if lo.Contains(contacts, "*") {
		// RFC 3261 - 10.3 step 6
		if len(contacts) != 1 || headerExpires != 0 {
			return Result{}, Fail(sip.StatusBadRequest, errors.New("wildcard contact needs Expires: 0"))
		}
		if err := r.store.RemoveAll(ctx, aor); err != nil {
			return Result{}, Fail(sip.StatusServerInternalError, err)
		}
		logger.Infof("[registrar] -> %s unregistered", aor)
		return Respond(req.CreateResponse(sip.StatusOK)), nil
	}

	existing, err := r.store.Bindings(ctx, aor)
	if err != nil {
		return Result{}, Fail(sip.StatusServerInternalError, err)
	}
	current := lo.KeyBy(existing, func(b Binding) string { return b.Contact })

	now := r.now()
	for _, value := range contacts {
		contact := sip.AddressURI(value)
		expires := headerExpires
		if v, ok := sip.HeaderParam(value, "expires"); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				expires = n
			}
		}
		if expires > 0 && expires < r.minExpires {
			res := req.CreateResponse(sip.StatusIntervalTooBrief)
			res.AddHeader("Min-Expires", strconv.Itoa(r.minExpires))
			return Respond(res), nil
		}
		if expires > r.maxExpires {
			expires = r.maxExpires
		}

		// out of order refresh from the same client RFC 3261 - 10.3 step 7
		if prev, ok := current[contact]; ok && prev.CallID == req.CallID() && prev.CSeq >= seq {
			logger.Debugf("[registrar] -> stale REGISTER for %s, CSeq %d <= %d", contact, seq, prev.CSeq)
			continue
		}

		if expires == 0 {
			if err := r.store.Remove(ctx, aor, contact); err != nil {
				return Result{}, Fail(sip.StatusServerInternalError, err)
			}
			logger.Infof("[registrar] -> %s removed binding %s", aor, contact)
			continue
		}
		b := Binding{
			Contact: contact,
			Expires: now.Add(time.Duration(expires) * time.Second),
			CallID:  req.CallID(),
			CSeq:    seq,
		}
		if err := r.store.Put(ctx, aor, b); err != nil {
			return Result{}, Fail(sip.StatusServerInternalError, err)
		}
		logger.Infof("[registrar] -> %s bound to %s for %ds", aor, contact, expires)
	}

	bindings, err := r.store.Bindings(ctx, aor)
	if err != nil {
		return Result{}, Fail(sip.StatusServerInternalError, err)
	}
	res := req.CreateResponse(sip.StatusOK)
	for _, b := range bindings {
		remaining := int(b.Expires.Sub(now).Round(time.Second) / time.Second)
		res.AddHeader("Contact", fmt.Sprintf("<%s>;expires=%d", b.Contact, remaining))
	}
	return Respond(res), nil
}
