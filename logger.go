package quant

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/quant/backend"
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
	loggerPtr.Store(newNopLogger())
}

// liveBackends holds the backends of open engines so that SetLogger reaches them.
var (
	liveMu       sync.Mutex
	liveBackends = make(map[backend.Backend]int)
)

// SetLogger configures the logger for quant and its backends.
// By default, quant produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by quant:
//   - [slog.LevelDebug]: per-iteration state, buffer sizes, dispatch grids
//   - [slog.LevelInfo]: backend selected, job finished
//   - [slog.LevelWarn]: iteration ceiling reached, kernel timing unavailable
//
// Example:
//
//	quant.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	liveMu.Lock()
	defer liveMu.Unlock()
	for b := range liveBackends {
		propagateLogger(b, l)
	}
}

// Logger returns the current logger used by quant.
// Sub-packages (cmd/quant, internal/blobstore) call this to share the same
// logger configuration.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// propagateLogger passes the logger to a backend if it implements
// backend.LoggerSetter.
func propagateLogger(b backend.Backend, l *slog.Logger) {
	if ls, ok := b.(backend.LoggerSetter); ok {
		ls.SetLogger(l)
	}
}

// trackBackend registers b for logger propagation and hands it the current logger.
func trackBackend(b backend.Backend) {
	liveMu.Lock()
	defer liveMu.Unlock()
	liveBackends[b]++
	propagateLogger(b, Logger())
}

// untrackBackend reverses one trackBackend call.
func untrackBackend(b backend.Backend) {
	liveMu.Lock()
	defer liveMu.Unlock()
	if liveBackends[b]--; liveBackends[b] <= 0 {
		delete(liveBackends, b)
	}
}
