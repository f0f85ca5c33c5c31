package transport

import (
	"net"
	"time"

	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/metrics"
	"github.com/zenghr0820/sipcore/sip"
	"github.com/zenghr0820/sipcore/utils"
)

var (
	DefaultAddress = net.ParseIP("127.0.0.1")
)

// transport 的配置选项
type Options struct {
	// 连接本地的IP地址, 用于 Via 的 sent-by
	localIP net.IP
	// DNS 配置
	resolver *Resolver
	// 事务层邮箱满时回调, 在读协程中执行
	onOverload func(msg sip.TransportMsg)
	metrics    *metrics.Metrics
	// 单次发送解析地址的超时
	sendTimeout time.Duration
}

type Option func(o *Options)

func newOptions(opts ...Option) Options {
	opt := Options{
		resolver:    &Resolver{},
		sendTimeout: 5 * time.Second,
	}

	for _, o := range opts {
		o(&opt)
	}

	if opt.localIP == nil {
		if v, err := utils.GetLocalRealIp(); err == nil {
			opt.localIP = v
		} else {
			logger.Warnf("[transport_option] -> resolve host IP failed: %s", err)
			opt.localIP = DefaultAddress
		}
	}

	return opt
}

// 配置传输层IP地址
func LocalAddr(localhost string) Option {
	return func(o *Options) {
		if localhost == "" {
			return
		}
		if addr, err := net.ResolveIPAddr("ip", localhost); err == nil {
			o.localIP = addr.IP
		} else {
			logger.Errorf("[transport_option] -> resolve host IP %s failed: %s", localhost, err)
		}
	}
}

// 配置 DNS 服务器 host[:port]
func DNSServer(dns string) Option {
	return func(o *Options) {
		o.resolver = &Resolver{NameServer: dns}
	}
}

// OnOverload is called for every message dropped because the transaction
// mailbox is full.
func OnOverload(fn func(msg sip.TransportMsg)) Option {
	return func(o *Options) {
		o.onOverload = fn
	}
}

func Metrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		o.metrics = m
	}
}

func SendTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.sendTimeout = d
		}
	}
}
