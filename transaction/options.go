package transaction

import (
	"github.com/zenghr0820/sipcore/metrics"
	"github.com/zenghr0820/sipcore/persist"
	"github.com/zenghr0820/sipcore/registry"
	"github.com/zenghr0820/sipcore/sip"
)

// Table is the transaction table, created by the owner of the registry and
// handed to the layer.
type Table = registry.Table[sip.TxKey, *transaction]

func NewTable() *Table {
	return registry.NewTable[sip.TxKey, *transaction]()
}

// DialogProbe tells whether an ACK without a transaction belongs to a known
// dialog.
type DialogProbe interface {
	HasDialog(id sip.DialogID) bool
}

type Options struct {
	Timings   Timings
	QueueSize int
	Table     *Table
	Recorder  persist.Recorder
	Metrics   *metrics.Metrics
	Dialogs   DialogProbe
}

type Option func(o *Options)

func Timers(t Timings) Option {
	return func(o *Options) {
		o.Timings = t
	}
}

// QueueSize bounds the per transaction event queue.
func QueueSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

func TxTable(t *Table) Option {
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

func Dialogs(p DialogProbe) Option {
	return func(o *Options) {
		o.Dialogs = p
	}
}

func newOptions(opts ...Option) *Options {
	options := &Options{
		Timings:   DefaultTimings(),
		QueueSize: 64,
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

	return options
}
