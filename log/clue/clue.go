// Package clue adapts github.com/agentcore/agentcore/log.Logger to
// goa.design/clue/log, the structured logging library the teacher repo
// uses throughout its runtime package.
package clue

import (
	"context"

	"goa.design/clue/log"

	corelog "github.com/agentcore/agentcore/log"
)

// Logger delegates to goa.design/clue/log. The logger reads formatting and
// debug settings from the context (set via log.Context and
// log.WithFormat/log.WithDebug), so callers configure Clue once at process
// start and pass the resulting context through the runtime.
type Logger struct{}

// New constructs a corelog.Logger backed by goa.design/clue/log.
func New() corelog.Logger { return Logger{} }

// Debug emits a debug-level log message with structured key-value pairs.
func (Logger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fields(msg, keyvals)...)
}

// Info emits an info-level log message with structured key-value pairs.
func (Logger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fields(msg, keyvals)...)
}

// Warn emits a warning-level log message with structured key-value pairs.
func (Logger) Warn(ctx context.Context, msg string, keyvals ...any) {
	f := append([]log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}, kvToFielders(keyvals)...)
	log.Warn(ctx, f...)
}

// Error emits an error-level log message with structured key-value pairs.
func (Logger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fields(msg, keyvals)...)
}

func fields(msg string, keyvals []any) []log.Fielder {
	return append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToFielders(keyvals)...)
}

// kvToFielders converts variadic key-value pairs (k1, v1, k2, v2, ...) into
// Clue's log.Fielder slice. An odd-length slice pairs the trailing key with
// nil. Non-string keys are skipped.
func kvToFielders(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: k, V: v})
	}
	return fielders
}
