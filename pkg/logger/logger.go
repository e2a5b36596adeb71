package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with typed fields. Error entries are also handed to
// an optional LogCollector.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat
	zerolog.DurationFieldUnit = time.Millisecond
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(4).Logger()
	return &Logger{zl: zl}, nil
}

func openOutput(name string) (io.Writer, error) {
	switch name {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	zctx := l.zl.With()
	for _, f := range fields {
		zctx = zctx.Interface(f.Key, f.value())
	}
	return &Logger{zl: zctx.Logger(), collector: l.collector}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	if c := l.collector; c != nil {
		c.AddLog("error", msg, fieldMap(fields), caller(2))
	}
}

func (l *Logger) write(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.apply(ev)
	}
	ev.Msg(msg)
}

// AddCollector starts aggregating error entries. An existing collector is
// flushed and replaced.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	l.RemoveCollector()
	l.collector = NewLogCollector(cfg)
}

// RemoveCollector flushes and detaches the collector. Child loggers created
// with With keep their reference until it is closed.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
}

func fieldMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.value()
	}
	return m
}

type kind uint8

const (
	kindString kind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
	kindError
	kindStrings
	kindAny
)

// Field is one structured key/value pair.
type Field struct {
	Key  string
	kind kind
	str  string
	num  int64
	flt  float64
	dur  time.Duration
	err  error
	strs []string
	any  interface{}
}

func (f Field) apply(ev *zerolog.Event) {
	switch f.kind {
	case kindString:
		ev.Str(f.Key, f.str)
	case kindInt:
		ev.Int64(f.Key, f.num)
	case kindFloat:
		ev.Float64(f.Key, f.flt)
	case kindBool:
		ev.Bool(f.Key, f.num != 0)
	case kindDuration:
		ev.Dur(f.Key, f.dur)
	case kindError:
		ev.AnErr(f.Key, f.err)
	case kindStrings:
		ev.Strs(f.Key, f.strs)
	default:
		ev.Interface(f.Key, f.any)
	}
}

func (f Field) value() interface{} {
	switch f.kind {
	case kindString:
		return f.str
	case kindInt:
		return f.num
	case kindFloat:
		return f.flt
	case kindBool:
		return f.num != 0
	case kindDuration:
		return f.dur.String()
	case kindError:
		if f.err == nil {
			return ""
		}
		return f.err.Error()
	case kindStrings:
		return f.strs
	default:
		return f.any
	}
}

func String(key, value string) Field {
	return Field{Key: key, kind: kindString, str: value}
}

func Strings(key string, values []string) Field {
	return Field{Key: key, kind: kindStrings, strs: values}
}

func Int(key string, value int) Field {
	return Field{Key: key, kind: kindInt, num: int64(value)}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, kind: kindInt, num: value}
}

// Uint64 saturates at the int64 maximum.
func Uint64(key string, value uint64) Field {
	if value > 1<<63-1 {
		value = 1<<63 - 1
	}
	return Field{Key: key, kind: kindInt, num: int64(value)}
}

func Float64(key string, value float64) Field { return Field{Key: key, kind: kindFloat, flt: value} }

func Bool(key string, value bool) Field {
	f := Field{Key: key, kind: kindBool}
	if value {
		f.num = 1
	}
	return f
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, kind: kindDuration, dur: value}
}

// Error logs err under "error".
func Error(err error) Field { return Field{Key: "error", kind: kindError, err: err} }

func Any(key string, value interface{}) Field { return Field{Key: key, kind: kindAny, any: value} }

// Stringer logs v.String(), which keeps decimals exact.
func Stringer(key string, v fmt.Stringer) Field {
	if v == nil {
		return String(key, "")
	}
	return String(key, v.String())
}
