// Package mlog provides structured logging for amifuse using zap.
package mlog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with amifuse-specific helpers.
type Logger struct {
	*zap.Logger
	onPacket func(action int32, detail string)
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnPacket sets a callback invoked on every packet trace, independent of
// the configured log level (used by --debug's colorized trace view).
func (l *Logger) SetOnPacket(fn func(action int32, detail string)) {
	l.onPacket = fn
}

// Packet logs an AmigaDOS packet round trip: the action code, its outcome,
// and a short human-readable detail string.
func (l *Logger) Packet(action int32, name, detail string) {
	if l.onPacket != nil {
		l.onPacket(action, detail)
	}
	l.Debug("packet",
		zap.Int32("action", action),
		zap.String("name", name),
		zap.String("detail", detail),
	)
}

// Trap logs a virtual Exec/DOS library vector invocation.
func (l *Logger) Trap(pc uint64, library, vector string) {
	l.Debug("trap",
		Addr(pc),
		zap.String("lib", library),
		zap.String("vec", vector),
	)
}

// WithCategory returns a logger with a category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger:   l.Logger.With(zap.String("cat", category)),
		onPacket: l.onPacket,
	}
}

// WithSession returns a logger with a session identifier preset, so every
// line from one mount's lifetime (boot, packet traces, unmount) can be
// grepped out of a shared log stream.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger:   l.Logger.With(zap.String("session", sessionID)),
		onPacket: l.onPacket,
	}
}

// Hex formats a uint64 as a 0x-prefixed hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

func Addr(addr uint64) zap.Field { return zap.String("addr", Hex(addr)) }
func Size(size uint64) zap.Field { return zap.Uint64("size", size) }
func Ptr(name string, ptr uint64) zap.Field { return zap.String(name, Hex(ptr)) }
func Fn(name string) zap.Field { return zap.String("fn", name) }
