package sipcore

import (
	"time"

	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/metrics"
	"github.com/zenghr0820/sipcore/persist"
	"github.com/zenghr0820/sipcore/processor"
	"github.com/zenghr0820/sipcore/transaction"
)

const DefaultMailboxSize = 1024

// Options for sip server
// SIP 服务选项
type Options struct {
	// 监听地址
	ListenAddr string
	// Via sent-by 使用的 IP, 为空时自动探测
	Host string
	// DNS 服务器 host[:port], 为空时使用系统解析
	DNS string
	// 每一层邮箱的容量
	MailboxSize int
	Timings     transaction.Timings
	// 注册信息存储, 默认内存
	Store      processor.BindingStore
	MinExpires int
	MaxExpires int
	// 代理上游, 为空时只转发到本地注册的联系人
	Upstream string
	// 自定义处理器, 先于内置处理器注册
	Processors []processor.Processor
	Recorder   persist.Recorder
	Metrics    *metrics.Metrics
	UserAgent  string
	AutoAck    bool
	// 日志, 为空时使用已初始化的包级日志
	Logger logger.Logger
}

type Option func(*Options)
type LoggerOption func(*logger.Options)

func newOptions(opts ...Option) Options {
	opt := Options{
		ListenAddr:  "0.0.0.0:5060",
		MailboxSize: DefaultMailboxSize,
		Timings:     transaction.DefaultTimings(),
		MinExpires:  processor.DefaultMinExpires,
		MaxExpires:  processor.DefaultMaxExpires,
		UserAgent:   "sipcore",
		AutoAck:     true,
	}

	for _, o := range opts {
		o(&opt)
	}

	if opt.Store == nil {
		opt.Store = processor.NewMemoryStore()
	}
	if opt.Recorder == nil {
		opt.Recorder = persist.Nop()
	}

	return opt
}

// 配置监听地址, ":0" 选择随机端口
func ListenAddr(addr string) Option {
	return func(o *Options) {
		o.ListenAddr = addr
	}
}

// 配置传输层IP地址
func Transport(localhost string) Option {
	return func(o *Options) {
		o.Host = localhost
	}
}

// 配置传输层 DNS
func DnsConfig(dns string) Option {
	return func(o *Options) {
		o.DNS = dns
	}
}

func MailboxSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MailboxSize = n
		}
	}
}

// 配置事务计时器
func Timers(t transaction.Timings) Option {
	return func(o *Options) {
		o.Timings = t
	}
}

// 配置注册信息存储
func BindingStore(store processor.BindingStore) Option {
	return func(o *Options) {
		o.Store = store
	}
}

// Expires bounds the registration interval in seconds.
func Expires(min, max int) Option {
	return func(o *Options) {
		o.MinExpires = min
		o.MaxExpires = max
	}
}

func Upstream(peer string) Option {
	return func(o *Options) {
		o.Upstream = peer
	}
}

// 添加自定义处理器
func AddProcessor(p processor.Processor) Option {
	return func(o *Options) {
		o.Processors = append(o.Processors, p)
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

func UserAgent(ua string) Option {
	return func(o *Options) {
		o.UserAgent = ua
	}
}

func AutoAck(enabled bool) Option {
	return func(o *Options) {
		o.AutoAck = enabled
	}
}

// 配置日志, NewServer 时初始化
func LoggerConfig(opts ...LoggerOption) Option {
	return func(o *Options) {
		if o.Logger == nil {
			o.Logger = logger.NewLogger()
		}
		for _, opt := range opts {
			opt(o.Logger.Options())
		}
	}
}

func LoggerName(name string) LoggerOption {
	return func(o *logger.Options) {
		option := logger.Name(name)
		option(o)
	}
}

func LoggerDir(dir string) LoggerOption {
	return func(o *logger.Options) {
		option := logger.Dir(dir)
		option(o)
	}
}

func LoggerLevel(level string) LoggerOption {
	return func(o *logger.Options) {
		option := logger.Level(level)
		option(o)
	}
}

func LoggerEnv(env string) LoggerOption {
	return func(o *logger.Options) {
		option := logger.EnvMode(env)
		option(o)
	}
}

func LoggerSkip(skip int) LoggerOption {
	return func(o *logger.Options) {
		option := logger.Skip(skip)
		option(o)
	}
}

// sweep settings follow the timers so that tests with short timers also
// clean up quickly.
func sweepInterval(t transaction.Timings) time.Duration {
	if d := 10 * t.T1; d < 5*time.Second {
		return d
	}
	return 5 * time.Second
}
