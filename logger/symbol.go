package logger

import (
	"github.com/teranos/reel/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers. The glyph goes into a structured field,
// not the message, so logs stay queryable by symbol.

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	symbolLogger(l, sym.Pulse).Infow(msg, keysAndValues...)
}

// PulseWarnw logs a warning message with the Pulse symbol (꩜)
func PulseWarnw(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	symbolLogger(l, sym.Pulse).Warnw(msg, keysAndValues...)
}

// MediaDebugw logs a debug message with the Media symbol (▶)
func MediaDebugw(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	symbolLogger(l, sym.Media).Debugw(msg, keysAndValues...)
}

// OracleDebugw logs a debug message with the Oracle symbol (◈)
func OracleDebugw(l *zap.SugaredLogger, msg string, keysAndValues ...interface{}) {
	symbolLogger(l, sym.Oracle).Debugw(msg, keysAndValues...)
}

func symbolLogger(l *zap.SugaredLogger, glyph string) *zap.SugaredLogger {
	if l == nil {
		l = Logger
	}
	return l.With(FieldSymbol, glyph)
}
