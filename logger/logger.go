package logger

import (
	"os"
	"sync"

	zapLogger "github.com/zenghr0820/zap-logger"
)

var (
	mu     sync.RWMutex
	logger zapLogger.Logger
	exit   = os.Exit
)

// Logger configures the package level logger used by every layer. The
// helpers in this package are no-ops until Init has run.
type Logger interface {
	// 初始化 logger, 每个实例只生效一次
	Init(opts ...Option)
	// logger 的配置选项
	Options() *Options

	String() string
}

// Enabled reports whether Init has run.
func Enabled() bool {
	return current() != nil
}

func current() zapLogger.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

type zapBacked struct {
	opts Options
	once sync.Once
}

// NewLogger returns an uninitialised logger; nothing is written until Init.
func NewLogger(opts ...Option) Logger {
	z := &zapBacked{opts: defaultOptions()}
	for _, o := range opts {
		o(&z.opts)
	}
	return z
}

// Init installs the logger as the package logger. The last instance
// initialised wins.
func (z *zapBacked) Init(opts ...Option) {
	for _, o := range opts {
		o(&z.opts)
	}

	z.once.Do(func() {
		l := zapLogger.InitLog(z.opts.config())
		mu.Lock()
		logger = l
		mu.Unlock()
	})
}

func (z *zapBacked) Options() *Options {
	return &z.opts
}

func (z *zapBacked) String() string {
	return z.opts.Name + "-" + z.opts.EnvMode
}
