package sipcore

import (
	"context"
	"net"

	"github.com/zenghr0820/sipcore/dialog"
	"github.com/zenghr0820/sipcore/sip"
)

// SIP 服务
type Server interface {
	// 返回当前配置选项
	Options() Options
	// LocalAddr is the bound UDP address.
	LocalAddr() net.Addr
	// SentBy is the host:port written into our Via headers.
	SentBy() string
	// 创建请求, from/to 为 SIP URI
	CreateRequest(method sip.RequestMethod, recipient, from, to string) *sip.Request
	// Request sends a request and yields its responses.
	Request(ctx context.Context, req *sip.Request, peer string) (<-chan dialog.Reply, error)
	Invite(ctx context.Context, req *sip.Request, peer string) (<-chan dialog.Reply, error)
	// Dialogs is the dialog layer, the transaction user.
	Dialogs() dialog.Layer
	// Events reports dialog changes, timeouts and processor failures.
	Events() <-chan dialog.Event
	// Run blocks until Close.
	Run() error
	// 关闭服务
	Close() error
	String() string
}

// NewServer binds the listen address and starts every layer.
func NewServer(opts ...Option) (Server, error) {
	s, err := newServer(opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
