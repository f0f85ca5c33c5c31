package logger

import "strings"

// 包级日志函数, Init 之前不输出

func Debug(args ...interface{}) {
	if l := current(); l != nil {
		l.Debug(args...)
	}
}

func Debugf(template string, args ...interface{}) {
	if l := current(); l != nil {
		l.Debugf(template, args...)
	}
}

func Info(args ...interface{}) {
	if l := current(); l != nil {
		l.Info(args...)
	}
}

func Infof(template string, args ...interface{}) {
	if l := current(); l != nil {
		l.Infof(template, args...)
	}
}

func Warnf(template string, args ...interface{}) {
	if l := current(); l != nil {
		l.Warnf(template, args...)
	}
}

func Errorf(template string, args ...interface{}) {
	if l := current(); l != nil {
		l.Errorf(template, args...)
	}
}

// Fatalf logs and exits. Before Init nothing is logged but the process still
// exits.
func Fatalf(template string, args ...interface{}) {
	if l := current(); l != nil {
		l.Fatalf(template, args...)
	}
	exit(1)
}

// Component writes lines as "[name] -> message", the format every layer
// uses.
type Component string

func (c Component) format(template string) string {
	var b strings.Builder
	b.Grow(len(c) + len(template) + 6)
	b.WriteByte('[')
	b.WriteString(string(c))
	b.WriteString("] -> ")
	b.WriteString(template)
	return b.String()
}

func (c Component) Debugf(template string, args ...interface{}) {
	Debugf(c.format(template), args...)
}

func (c Component) Infof(template string, args ...interface{}) {
	Infof(c.format(template), args...)
}

func (c Component) Warnf(template string, args ...interface{}) {
	Warnf(c.format(template), args...)
}

func (c Component) Errorf(template string, args ...interface{}) {
	Errorf(c.format(template), args...)
}

func (c Component) Fatalf(template string, args ...interface{}) {
	Fatalf(c.format(template), args...)
}
