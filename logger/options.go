package logger

import (
	"strings"

	zapLogger "github.com/zenghr0820/zap-logger"
)

// logger 配置
type Options struct {
	Name string
	// 日志目录, 为空时输出到控制台
	Dir     string
	Level   zapLogger.LogLevel
	EnvMode string
	// 调用栈跳过的层数, 包级函数为 2
	Skip int
}

type Option func(o *Options)

func defaultOptions() Options {
	return Options{
		Name:    "sipcore",
		Level:   zapLogger.ErrorLevel,
		EnvMode: "prod",
		Skip:    2,
	}
}

func (o Options) config() *zapLogger.Config {
	return &zapLogger.Config{
		Name:    o.Name,
		Dir:     o.Dir,
		Level:   o.Level,
		EnvMode: o.EnvMode,
		Skip:    o.Skip,
	}
}

func Name(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Name = name
		}
	}
}

func Dir(dir string) Option {
	return func(o *Options) {
		o.Dir = strings.TrimSpace(dir)
	}
}

// Level sets the level by name; an empty name keeps the current level.
func Level(level string) Option {
	return func(o *Options) {
		if level = strings.TrimSpace(level); level != "" {
			o.Level = zapLogger.LogLevel(level)
		}
	}
}

// EnvMode is "dev" or "prod"; anything else keeps the current mode.
func EnvMode(env string) Option {
	return func(o *Options) {
		switch env = strings.ToLower(strings.TrimSpace(env)); env {
		case "dev", "prod":
			o.EnvMode = env
		}
	}
}

func Skip(skip int) Option {
	return func(o *Options) {
		if skip >= 0 {
			o.Skip = skip
		}
	}
}
