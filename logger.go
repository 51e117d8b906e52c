package shadertest

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for shadertest. The package is silent by
// default so GPU tests produce no output beyond their own failures; wire in
// a logger when a dispatch misbehaves and the harness internals need to be
// seen. Pass nil to restore the silent default.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
//
// What each level carries:
//   - [slog.LevelDebug]: buffer allocations, pipeline creation, per-dispatch
//     timing
//   - [slog.LevelInfo]: adapter selection and harness lifecycle
//   - [slog.LevelWarn]: dispatch timeouts that invalidate a harness
//
// A test suite typically enables it from TestMain, gated on an environment
// variable so CI stays quiet:
//
//	func TestMain(m *testing.M) {
//		if os.Getenv("SHADERTEST_DEBUG") != "" {
//			shadertest.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//				Level: slog.LevelDebug,
//			})))
//		}
//		os.Exit(m.Run())
//	}
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger used by shadertest.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
