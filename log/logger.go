// Package log writes JSON log lines through zap. Every line names the
// component that produced it; per-call fields are nested under "fields"
// so they never collide with the envelope keys.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:     "timestamp",
	LevelKey:    "level",
	MessageKey:  "message",
	EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
	EncodeLevel: zapcore.LowercaseLevelEncoder,
}

// Logger is an immutable component logger. The With* methods return
// copies.
type Logger struct {
	zap   *zap.Logger
	out   io.Writer
	level zapcore.Level
	// attrs are replayed when the core is rebuilt by WithOutput or WithLevel.
	attrs []zap.Field
}

// NewLogger logs for component to stderr at debug level.
func NewLogger(component string) *Logger {
	return newLogger(os.Stderr, zapcore.DebugLevel, []zap.Field{zap.String("component", component)})
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), out: io.Discard, level: zapcore.FatalLevel}
}

func newLogger(out io.Writer, level zapcore.Level, attrs []zap.Field) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(out), level)
	return &Logger{zap: zap.New(core).With(attrs...), out: out, level: level, attrs: attrs}
}

// WithOutput redirects the logger.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return newLogger(w, l.level, l.attrs)
}

// WithLevel drops entries below level (debug, info, warn or error).
func (l *Logger) WithLevel(level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return newLogger(l.out, lvl, l.attrs), nil
}

// With adds key to every later entry.
func (l *Logger) With(key string, value any) *Logger {
	f := zap.Any(key, value)
	attrs := append(l.attrs[:len(l.attrs):len(l.attrs)], f)
	return &Logger{zap: l.zap.With(f), out: l.out, level: l.level, attrs: attrs}
}

func (l *Logger) write(level zapcore.Level, msg string, fields map[string]any) {
	ce := l.zap.Check(level, msg)
	if ce == nil {
		return
	}
	if len(fields) == 0 {
		ce.Write()
		return
	}
	ce.Write(zap.Any("fields", fields))
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.write(zapcore.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.write(zapcore.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.write(zapcore.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.write(zapcore.ErrorLevel, msg, fields) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
