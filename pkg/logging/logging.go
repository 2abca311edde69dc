package logging

import (
	"fmt"
	"strings"
)

// Log levels accepted by LogLevelf
const (
	DebugLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// FieldLogger is implemented by backends that support structured context natively
type FieldLogger interface {
	Logger
	With(keysAndValues ...interface{}) Logger
}

type LogFuncs struct {
	Debugf func(format string, args ...interface{})
	Infof  func(format string, args ...interface{})
	Warnf  func(format string, args ...interface{})
	Errorf func(format string, args ...interface{})
}

func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &logger{
		prefix: prefix,
		funcs:  funcs,
	}
}

type logger struct {
	prefix string
	funcs  LogFuncs
}

func (l *logger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case DebugLevel:
		l.Debugf(format, args...)
	case InfoLevel:
		l.Infof(format, args...)
	case WarnLevel:
		l.Warnf(format, args...)
	default:
		l.Errorf(format, args...)
	}
}

func (l *logger) Debugf(format string, args ...interface{}) {
	if l.funcs.Debugf != nil {
		l.funcs.Debugf(l.prefix+format, args...)
	}
}

func (l *logger) Infof(format string, args ...interface{}) {
	if l.funcs.Infof != nil {
		l.funcs.Infof(l.prefix+format, args...)
	}
}

func (l *logger) Warnf(format string, args ...interface{}) {
	if l.funcs.Warnf != nil {
		l.funcs.Warnf(l.prefix+format, args...)
	}
}

func (l *logger) Errorf(format string, args ...interface{}) {
	if l.funcs.Errorf != nil {
		l.funcs.Errorf(l.prefix+format, args...)
	}
}

func NewNullLogger() Logger {
	return NewLogger("", LogFuncs{})
}

// OrNull substitutes the null logger for a nil one
func OrNull(logger Logger) Logger {
	if logger == nil {
		return NewNullLogger()
	}
	return logger
}

// WithFields returns a logger that attaches the given key/value pairs to every message.
// Backends implementing FieldLogger handle the fields natively; others get them appended
// to the formatted message as "key=value".
func WithFields(logger Logger, keysAndValues ...interface{}) Logger {
	logger = OrNull(logger)
	if len(keysAndValues) == 0 {
		return logger
	}
	if fl, ok := logger.(FieldLogger); ok {
		return fl.With(keysAndValues...)
	}
	return &fieldsLogger{
		base:   logger,
		suffix: formatFields(keysAndValues),
	}
}

func formatFields(keysAndValues []interface{}) string {
	var sb strings.Builder
	for i := 0; i < len(keysAndValues); i += 2 {
		sb.WriteString(" ")
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&sb, "%v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&sb, "%v=<missing>", keysAndValues[i])
		}
	}
	return sb.String()
}

type fieldsLogger struct {
	base   Logger
	suffix string
}

func (l *fieldsLogger) LogLevelf(level int, format string, args ...interface{}) {
	l.base.LogLevelf(level, format+"%s", append(args, l.suffix)...)
}

func (l *fieldsLogger) Debugf(format string, args ...interface{}) {
	l.base.Debugf(format+"%s", append(args, l.suffix)...)
}

func (l *fieldsLogger) Infof(format string, args ...interface{}) {
	l.base.Infof(format+"%s", append(args, l.suffix)...)
}

func (l *fieldsLogger) Warnf(format string, args ...interface{}) {
	l.base.Warnf(format+"%s", append(args, l.suffix)...)
}

func (l *fieldsLogger) Errorf(format string, args ...interface{}) {
	l.base.Errorf(format+"%s", append(args, l.suffix)...)
}

// ParseLevel maps a level name to its numeric value. "warning" is accepted as an alias of "warn".
func ParseLevel(name string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, true
	case "info", "":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error", "critical":
		return ErrorLevel, true
	default:
		return InfoLevel, false
	}
}
