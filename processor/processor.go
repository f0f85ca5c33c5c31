package processor

import (
	"context"
	"fmt"

	"github.com/zenghr0820/sipcore/sip"
)

// Kind is the closed set of processor variants.
type Kind int

const (
	KindRegistrar Kind = iota
	KindCapabilities
	KindProxy
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindRegistrar:
		return "registrar"
	case KindCapabilities:
		return "capabilities"
	case KindProxy:
		return "proxy"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Processor handles requests for a fixed set of methods. Handle runs on its
// own goroutine and must not keep req after returning.
// 请求处理器
type Processor interface {
	Kind() Kind
	Methods() []sip.RequestMethod
	Handle(ctx context.Context, method sip.RequestMethod, req *sip.Request) (Result, error)
}

// Result is either a response to send on the server transaction or a
// request to relay downstream.
type Result struct {
	Response *sip.Response
	Forward  *Forward
}

// Forward asks the dialog layer to relay Request to Peer as a new client
// transaction. An empty Peer is derived from the Request-URI.
type Forward struct {
	Request *sip.Request
	Peer    string
}

func Respond(res *sip.Response) Result {
	return Result{Response: res}
}

func Relay(req *sip.Request, peer string) Result {
	return Result{Forward: &Forward{Request: req, Peer: peer}}
}

// 处理器异常, 由 dialog 层转换为 Status 响应
type ProcessorError struct {
	Status sip.StatusCode
	Err    error
}

// Fail wraps err so that the request is answered with status.
func Fail(status sip.StatusCode, err error) error {
	return &ProcessorError{Status: status, Err: err}
}

func (err *ProcessorError) Unwrap() error { return err.Err }
func (err *ProcessorError) Error() string {
	if err == nil {
		return "<nil>"
	}

	return fmt.Sprintf("processor.ProcessorError<%d>: %s", err.Status, err.Err)
}

// Func adapts a function into a custom processor.
type Func struct {
	Verbs   []sip.RequestMethod
	Handler func(ctx context.Context, method sip.RequestMethod, req *sip.Request) (Result, error)
}

func (f *Func) Kind() Kind { return KindCustom }

func (f *Func) Methods() []sip.RequestMethod { return f.Verbs }

func (f *Func) Handle(ctx context.Context, method sip.RequestMethod, req *sip.Request) (Result, error) {
	return f.Handler(ctx, method, req)
}
