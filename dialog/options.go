package dialog

import (
	"time"

	"github.com/zenghr0820/sipcore/metrics"
	"github.com/zenghr0820/sipcore/persist"
	"github.com/zenghr0820/sipcore/processor"
	"github.com/zenghr0820/sipcore/registry"
	"github.com/zenghr0820/sipcore/sip"
	"github.com/zenghr0820/sipcore/transaction"
)

// Table is the dialog table, created by the Server and handed to the layer.
type Table = registry.Table[sip.DialogID, *Dialog]

func NewTable() *Table {
	return registry.NewTable[sip.DialogID, *Dialog]()
}

type Options struct {
	Processors *processor.Table
	Table      *Table
	Recorder   persist.Recorder
	Metrics    *metrics.Metrics
	Timings    transaction.Timings
	// AutoAck sends the ACK for a 2xx INVITE response on behalf of the
	// caller of Invite.
	AutoAck bool
	// SentBy is the host:port written into the Via of generated requests.
	SentBy           string
	SweepInterval    time.Duration
	Linger           time.Duration
	ProxiedLifetime  time.Duration
	ProcessorTimeout time.Duration
	EventsSize       int
}

type Option func(o *Options)

func Processors(t *processor.Table) Option {
	return func(o *Options) {
		o.Processors = t
	}
}

func DialogTable(t *Table) Option {
	return func(o *Options) {
		o.Table = t
	}
}

func Recorder(r persist.Recorder) Option {
	return func(o *Options) {
		o.Recorder = r
	}
}

func Metrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// Timers must match the timings of the transaction layer; the 2xx
// retransmission of UAS dialogs runs on T1/T2.
func Timers(t transaction.Timings) Option {
	return func(o *Options) {
		o.Timings = t
	}
}

func AutoAck(enabled bool) Option {
	return func(o *Options) {
		o.AutoAck = enabled
	}
}

func SentBy(hostport string) Option {
	return func(o *Options) {
		o.SentBy = hostport
	}
}

// Sweep sets how often ended dialogs are removed and how long they stay in
// the table after they ended.
func Sweep(interval, linger time.Duration) Option {
	return func(o *Options) {
		if interval > 0 {
			o.SweepInterval = interval
		}
		if linger >= 0 {
			o.Linger = linger
		}
	}
}

// ProxiedLifetime bounds dialogs we only relayed; their BYE never passes
// through us.
func ProxiedLifetime(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ProxiedLifetime = d
		}
	}
}

func ProcessorTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ProcessorTimeout = d
		}
	}
}

func EventsSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.EventsSize = n
		}
	}
}

func newOptions(opts ...Option) *Options {
	options := &Options{
		Timings:          transaction.DefaultTimings(),
		AutoAck:          true,
		SentBy:           "127.0.0.1:5060",
		SweepInterval:    5 * time.Second,
		Linger:           32 * time.Second,
		ProxiedLifetime:  12 * time.Hour,
		ProcessorTimeout: 30 * time.Second,
		EventsSize:       256,
	}
	for _, o := range opts {
		o(options)
	}
	if options.Table == nil {
		options.Table = NewTable()
	}
	if options.Recorder == nil {
		options.Recorder = persist.Nop()
	}
	if options.Processors == nil {
		// an empty table cannot fail
		options.Processors, _ = processor.NewTable()
	}

	return options
}
